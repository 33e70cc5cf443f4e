package model

import (
	"math"
	"math/rand"

	"github.com/openfluke/loom/nn"

	"github.com/janmbuys/word-language-model/batch"
)

// attention is the stateless full-context family: embedding into a stack of
// multi-head attention layers with a dense head. Each prediction attends
// over a fixed context of the bptt most recent tokens, left-padded with the
// pad id while the window is still filling.
type attention struct {
	cfg Config
	net *nn.Network
	acc *gradAccum
	seq int
}

func newAttention(cfg Config) *attention {
	seq := cfg.BPTT
	net := nn.NewNetwork(seq, 1, 1, cfg.Layers+3)

	net.SetLayer(0, 0, 0, embeddingLayer(cfg.NTokens, cfg.EmbedSize))
	for l := 0; l < cfg.Layers; l++ {
		net.SetLayer(0, 0, 1+l, mhaLayer(cfg.EmbedSize, cfg.Order, seq))
	}
	net.SetLayer(0, 0, cfg.Layers+1,
		nn.InitDenseLayer(cfg.EmbedSize*seq, cfg.Hidden, nn.ActivationTanh))
	net.SetLayer(0, 0, cfg.Layers+2,
		nn.InitDenseLayer(cfg.Hidden, cfg.NTokens, nn.ActivationType(-1)))
	net.InitializeWeights()

	return &attention{cfg: cfg, net: net, acc: newGradAccum(net), seq: seq}
}

// mhaLayer builds a multi-head attention layer with its projection weights
// populated, scaled down by head dimension so early logits stay small.
func mhaLayer(dModel, heads, seq int) nn.LayerConfig {
	headDim := dModel / heads
	layer := nn.LayerConfig{
		Type:      nn.LayerMultiHeadAttention,
		DModel:    dModel,
		NumHeads:  heads,
		SeqLength: seq,
	}
	layer.QWeights = make([]float32, dModel*dModel)
	layer.KWeights = make([]float32, dModel*dModel)
	layer.VWeights = make([]float32, dModel*dModel)
	layer.OutputWeight = make([]float32, dModel*dModel)
	layer.QBias = make([]float32, dModel)
	layer.KBias = make([]float32, dModel)
	layer.VBias = make([]float32, dModel)
	layer.OutputBias = make([]float32, dModel)

	qkScale := float32(0.5 / math.Sqrt(float64(headDim)))
	outScale := float32(0.5 / math.Sqrt(float64(dModel)))
	fillUniform(layer.QWeights, qkScale)
	fillUniform(layer.KWeights, qkScale)
	fillUniform(layer.VWeights, qkScale)
	fillUniform(layer.OutputWeight, outScale)
	return layer
}

func fillUniform(w []float32, scale float32) {
	for i := range w {
		w[i] = (rand.Float32()*2 - 1) * scale
	}
}

func (m *attention) Name() string     { return "Transformer" }
func (m *attention) Net() *nn.Network { return m.net }
func (m *attention) Padded() bool     { return false }

func (m *attention) TrainWindow(w batch.Window) (float64, int) {
	return m.run(w, true)
}

func (m *attention) ScoreWindow(w batch.Window) (float64, int) {
	return m.run(w, false)
}

func (m *attention) run(w batch.Window, train bool) (float64, int) {
	if w.Length == 0 {
		return 0, 0
	}
	cols := w.Cols
	ntok := m.cfg.NTokens
	m.net.BatchSize = cols

	in := make([]float32, cols*m.seq)
	grad := make([]float32, cols*ntok)
	scale := 1 / float32(w.Length*cols)

	var total float64
	for t := 0; t < w.Length; t++ {
		for b := 0; b < cols; b++ {
			for k := 0; k < m.seq; k++ {
				src := t - m.seq + 1 + k
				if src < 0 {
					in[b*m.seq+k] = float32(m.cfg.PadID)
				} else {
					in[b*m.seq+k] = float32(w.Data[src*cols+b])
				}
			}
		}
		out, _ := m.net.ForwardCPU(in)
		total += crossEntropy(out, w.Targets[t*cols:(t+1)*cols], ntok, scale, grad)
		if train {
			// BackwardCPU overwrites the gradient buffers per call.
			m.net.BackwardCPU(grad)
			m.acc.add(m.net)
		}
	}
	return total, w.Length * cols
}

func (m *attention) Gradients() ([][]float32, [][]float32) {
	return m.acc.kernels, m.acc.biases
}

func (m *attention) FlushGradients() { m.acc.flush(m.net) }

func (m *attention) swapNet(net *nn.Network) {
	m.net = net
	m.acc = newGradAccum(net)
}
