package model

import (
	"math"
	"testing"

	"github.com/openfluke/loom/nn"
)

func accNet() *nn.Network {
	net := nn.NewNetwork(2, 1, 1, 1)
	net.SetLayer(0, 0, 0, nn.InitDenseLayer(2, 2, nn.ActivationType(-1)))
	net.InitializeWeights()
	return net
}

func TestGradAccumSumsAcrossBackwardCalls(t *testing.T) {
	net := accNet()
	in := []float32{1, 0.5}
	grad := []float32{1, 2}

	once := newGradAccum(net)
	twice := newGradAccum(net)

	net.ForwardCPU(in)
	net.BackwardCPU(grad)
	once.add(net)
	twice.add(net)

	// No optimizer step in between, same input and loss gradient: the
	// second backward writes the same per-layer gradients as the first,
	// replacing them in the network. The accumulator must hold the sum.
	net.ForwardCPU(in)
	net.BackwardCPU(grad)
	twice.add(net)

	var seen bool
	for i := range once.kernels {
		for k := range once.kernels[i] {
			if once.kernels[i][k] != 0 {
				seen = true
			}
			want := 2 * once.kernels[i][k]
			if math.Abs(float64(twice.kernels[i][k]-want)) > 1e-5 {
				t.Fatalf("layer %d kernel %d: got %f, want %f", i, k, twice.kernels[i][k], want)
			}
		}
	}
	if !seen {
		t.Fatal("backward produced no kernel gradients")
	}
}

func TestGradAccumFlushLoadsAndClears(t *testing.T) {
	net := accNet()
	acc := newGradAccum(net)
	net.ForwardCPU([]float32{1, 0.5})
	net.BackwardCPU([]float32{1, 2})
	acc.add(net)

	want := make([][]float32, len(acc.kernels))
	for i, layer := range acc.kernels {
		want[i] = append([]float32(nil), layer...)
	}

	acc.flush(net)
	kg := net.KernelGradients()
	for i := range want {
		for k := range want[i] {
			if kg[i][k] != want[i][k] {
				t.Fatalf("layer %d kernel %d: network holds %f, want %f", i, k, kg[i][k], want[i][k])
			}
		}
		for k := range acc.kernels[i] {
			if acc.kernels[i][k] != 0 {
				t.Fatalf("accumulator not cleared at layer %d", i)
			}
		}
	}
}
