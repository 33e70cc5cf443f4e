package model

import (
	"github.com/openfluke/loom/nn"

	"github.com/janmbuys/word-language-model/batch"
)

// feedForward is the fixed-context n-gram family. Every prediction sees
// exactly Order token ids; it consumes pad-start windows so the first real
// token of a window is predicted from synthetic context. The FeedForward2
// variant inserts a linear bottleneck that projects the concatenated
// context embeddings back down to a single embedding before the hidden
// stack.
type feedForward struct {
	cfg        Config
	net        *nn.Network
	acc        *gradAccum
	name       string
	bottleneck bool
}

func newFeedForward(cfg Config, bottleneck bool) *feedForward {
	depth := 2 + cfg.Layers
	if bottleneck {
		depth++
	}
	net := nn.NewNetwork(cfg.Order, 1, 1, depth)

	idx := 0
	net.SetLayer(0, 0, idx, embeddingLayer(cfg.NTokens, cfg.EmbedSize))
	idx++

	in := cfg.EmbedSize * cfg.Order
	if bottleneck {
		net.SetLayer(0, 0, idx, nn.InitDenseLayer(in, cfg.EmbedSize, nn.ActivationType(-1)))
		in = cfg.EmbedSize
		idx++
	}
	for l := 0; l < cfg.Layers; l++ {
		net.SetLayer(0, 0, idx, nn.InitDenseLayer(in, cfg.Hidden, nn.ActivationTanh))
		in = cfg.Hidden
		idx++
	}
	net.SetLayer(0, 0, idx, nn.InitDenseLayer(in, cfg.NTokens, nn.ActivationType(-1)))
	net.InitializeWeights()

	name := "FeedForward"
	if bottleneck {
		name = "FeedForward2"
	}
	return &feedForward{cfg: cfg, net: net, acc: newGradAccum(net), name: name, bottleneck: bottleneck}
}

func (m *feedForward) Name() string     { return m.name }
func (m *feedForward) Net() *nn.Network { return m.net }
func (m *feedForward) Padded() bool     { return true }

func (m *feedForward) TrainWindow(w batch.Window) (float64, int) {
	return m.run(w, true)
}

func (m *feedForward) ScoreWindow(w batch.Window) (float64, int) {
	return m.run(w, false)
}

func (m *feedForward) run(w batch.Window, train bool) (float64, int) {
	if w.Length == 0 {
		return 0, 0
	}
	cols := w.Cols
	order := m.cfg.Order
	ntok := m.cfg.NTokens
	m.net.BatchSize = cols

	in := make([]float32, cols*order)
	grad := make([]float32, cols*ntok)
	scale := 1 / float32(w.Length*cols)

	var total float64
	for t := 0; t < w.Length; t++ {
		// Prediction t sees window rows t..t+order-1, which include the
		// synthetic prefix for the leading positions.
		for b := 0; b < cols; b++ {
			for k := 0; k < order; k++ {
				in[b*order+k] = float32(w.Data[(t+k)*cols+b])
			}
		}
		out, _ := m.net.ForwardCPU(in)
		total += crossEntropy(out, w.Targets[t*cols:(t+1)*cols], ntok, scale, grad)
		if train {
			// Each backward overwrites the network's gradient buffers,
			// so the step's contribution is banked immediately.
			m.net.BackwardCPU(grad)
			m.acc.add(m.net)
		}
	}
	return total, w.Length * cols
}

func (m *feedForward) Gradients() ([][]float32, [][]float32) {
	return m.acc.kernels, m.acc.biases
}

func (m *feedForward) FlushGradients() { m.acc.flush(m.net) }

func (m *feedForward) swapNet(net *nn.Network) {
	m.net = net
	m.acc = newGradAccum(net)
}
