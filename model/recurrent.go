package model

import (
	"github.com/openfluke/loom/nn"

	"github.com/janmbuys/word-language-model/batch"
)

// recurrent is the stateful family (simple RNN or LSTM) built on loom's
// stepping API: one StepForward per token position, with the step state
// carrying the recurrence across windows. Outputs lag inputs by the layer
// pipeline depth, so targets queue until their prediction emerges, the same
// scheme as loom's streaming LM examples. Gradient history never spans a
// step, which gives the truncated-backpropagation semantics for free: the
// controller only has to zero the state once per sub-interval.
type recurrent struct {
	cfg   Config
	net   *nn.Network
	acc   *gradAccum
	name  string
	depth int

	state   *nn.StepState
	cols    int
	pending [][]int
}

func newRecurrent(cfg Config, name string) *recurrent {
	net := nn.NewNetwork(cfg.NTokens, 1, 1, cfg.Layers+2)

	net.SetLayer(0, 0, 0, nn.InitDenseLayer(cfg.NTokens, cfg.EmbedSize, nn.ActivationTanh))
	in := cfg.EmbedSize
	for l := 0; l < cfg.Layers; l++ {
		if name == "LSTM" {
			net.SetLayer(0, 0, 1+l, nn.InitLSTMLayer(in, cfg.Hidden, 1, 1))
		} else {
			net.SetLayer(0, 0, 1+l, nn.InitRNNLayer(in, cfg.Hidden, 1, 1))
		}
		in = cfg.Hidden
	}
	net.SetLayer(0, 0, cfg.Layers+1, nn.InitDenseLayer(cfg.Hidden, cfg.NTokens, nn.ActivationType(-1)))
	net.InitializeWeights()

	return &recurrent{
		cfg:   cfg,
		net:   net,
		acc:   newGradAccum(net),
		name:  name,
		depth: net.TotalLayers(),
	}
}

func (m *recurrent) Name() string     { return m.name }
func (m *recurrent) Net() *nn.Network { return m.net }
func (m *recurrent) Padded() bool     { return false }

// ResetHidden drops the recurrent state and the in-flight target queue and
// starts from the zero state for cols batch columns.
func (m *recurrent) ResetHidden(cols int) {
	m.net.BatchSize = cols
	m.state = m.net.InitStepState(m.cfg.NTokens)
	m.cols = cols
	m.pending = nil
}

func (m *recurrent) TrainWindow(w batch.Window) (float64, int) {
	return m.run(w, true)
}

func (m *recurrent) ScoreWindow(w batch.Window) (float64, int) {
	return m.run(w, false)
}

func (m *recurrent) run(w batch.Window, train bool) (float64, int) {
	if w.Length == 0 {
		return 0, 0
	}
	cols := w.Cols
	ntok := m.cfg.NTokens
	if m.state == nil || m.cols != cols {
		m.ResetHidden(cols)
	}

	in := make([]float32, cols*ntok)
	grad := make([]float32, cols*ntok)
	scale := 1 / float32(w.Length*cols)

	var total float64
	var count int
	for t := 0; t < w.Length; t++ {
		for i := range in {
			in[i] = 0
		}
		for b := 0; b < cols; b++ {
			in[b*ntok+w.Data[t*cols+b]] = 1
		}
		m.state.SetInput(in)
		m.net.StepForward(m.state)

		m.pending = append(m.pending, w.Targets[t*cols:(t+1)*cols])
		if len(m.pending) < m.depth {
			// Pipeline still filling; no output for this target yet.
			continue
		}
		targets := m.pending[0]
		m.pending = m.pending[1:]

		out := m.state.GetOutput()
		total += crossEntropy(out, targets, ntok, scale, grad)
		count += cols
		if train {
			// StepBackward overwrites the network's gradient buffers;
			// bank this step before the next one replaces it.
			m.net.StepBackward(m.state, grad)
			m.acc.add(m.net)
		}
	}
	return total, count
}

func (m *recurrent) Gradients() ([][]float32, [][]float32) {
	return m.acc.kernels, m.acc.biases
}

func (m *recurrent) FlushGradients() { m.acc.flush(m.net) }

func (m *recurrent) swapNet(net *nn.Network) {
	m.net = net
	m.acc = newGradAccum(net)
	m.depth = net.TotalLayers()
	m.state = nil
	m.pending = nil
}
