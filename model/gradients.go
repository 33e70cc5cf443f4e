package model

import "github.com/openfluke/loom/nn"

// gradAccum holds per-layer gradient sums at the harness level. The
// network's own gradient buffers are overwritten by every backward call,
// so each call's contribution is copied out before the next one lands.
type gradAccum struct {
	kernels [][]float32
	biases  [][]float32
}

func newGradAccum(net *nn.Network) *gradAccum {
	a := &gradAccum{
		kernels: make([][]float32, len(net.Layers)),
		biases:  make([][]float32, len(net.Layers)),
	}
	for i, layer := range net.Layers {
		if len(layer.Kernel) > 0 {
			a.kernels[i] = make([]float32, len(layer.Kernel))
		}
		if len(layer.Bias) > 0 {
			a.biases[i] = make([]float32, len(layer.Bias))
		}
	}
	return a
}

// add folds the network's current gradient buffers into the running sums.
// Slots missing from the initial layer scan are sized on first sight, so
// layers that surface gradients only through the accessors still land.
func (a *gradAccum) add(net *nn.Network) {
	kg := net.KernelGradients()
	bg := net.BiasGradients()
	for i := range a.kernels {
		if len(a.kernels[i]) == 0 && i < len(kg) && len(kg[i]) > 0 {
			a.kernels[i] = make([]float32, len(kg[i]))
		}
		if len(a.biases[i]) == 0 && i < len(bg) && len(bg[i]) > 0 {
			a.biases[i] = make([]float32, len(bg[i]))
		}
		if len(a.kernels[i]) > 0 && i < len(kg) && len(a.kernels[i]) == len(kg[i]) {
			for k := range a.kernels[i] {
				a.kernels[i][k] += kg[i][k]
			}
		}
		if len(a.biases[i]) > 0 && i < len(bg) && len(a.biases[i]) == len(bg[i]) {
			for k := range a.biases[i] {
				a.biases[i][k] += bg[i][k]
			}
		}
	}
}

// flush writes the sums into the network's gradient buffers and zeroes
// the accumulators, leaving the network ready for one optimizer step.
func (a *gradAccum) flush(net *nn.Network) {
	kg := net.KernelGradients()
	bg := net.BiasGradients()
	for i := range a.kernels {
		if len(a.kernels[i]) > 0 && i < len(kg) && len(a.kernels[i]) == len(kg[i]) {
			for k := range kg[i] {
				kg[i][k] = a.kernels[i][k]
				a.kernels[i][k] = 0
			}
		}
		if len(a.biases[i]) > 0 && i < len(bg) && len(a.biases[i]) == len(bg[i]) {
			for k := range bg[i] {
				bg[i][k] = a.biases[i][k]
				a.biases[i][k] = 0
			}
		}
	}
}
