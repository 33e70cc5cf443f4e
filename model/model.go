// Package model wraps loom networks as interchangeable language model
// families. Each family consumes token windows produced by the batch package
// and accumulates gradients at window granularity; the training controller
// owns clipping and optimizer stepping.
package model

import (
	"math/rand"

	"github.com/openfluke/loom/nn"
	"github.com/pkg/errors"

	"github.com/janmbuys/word-language-model/batch"
)

// Config sizes a model. NTokens already includes any pad-vocab extension.
type Config struct {
	Family    string
	NTokens   int
	Order     int // context size for feed-forward models, head count for the transformer
	EmbedSize int
	Hidden    int
	Layers    int
	Dropout   float64
	BPTT      int // attention context window (transformer only)
	PadID     int
	Tied      bool
}

// Model is one language model family. TrainWindow runs forward and backward
// over a (data, target) window and accumulates gradients in the underlying
// network without applying them; ScoreWindow runs inference only. Both
// return the summed negative log-likelihood and the number of scored tokens.
type Model interface {
	Name() string
	Net() *nn.Network
	// Padded reports whether the model consumes pad-start windows and
	// predicts the first real token of each window.
	Padded() bool
	TrainWindow(w batch.Window) (float64, int)
	ScoreWindow(w batch.Window) (float64, int)
	// Gradients exposes the window's accumulated per-layer kernel and
	// bias gradient sums, mutable for clipping.
	Gradients() (kernels, biases [][]float32)
	// FlushGradients loads the accumulated sums into the network's
	// gradient buffers and clears them, ready for one optimizer step.
	FlushGradients()
}

// Stateful is implemented by recurrent models whose hidden state survives
// across windows. ResetHidden reinitializes it to the zero state for the
// given number of batch columns.
type Stateful interface {
	ResetHidden(cols int)
}

// New builds the model family selected by cfg.Family. The choice is made
// once here and fixed for the run.
func New(cfg Config) (Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Family {
	case "FeedForward":
		return newFeedForward(cfg, false), nil
	case "FeedForward2":
		return newFeedForward(cfg, true), nil
	case "RNN_TANH":
		return newRecurrent(cfg, "RNN_TANH"), nil
	case "LSTM":
		return newRecurrent(cfg, "LSTM"), nil
	case "Transformer":
		return newAttention(cfg), nil
	case "RNN_RELU", "GRU":
		return nil, errors.Errorf("model: %s has no loom layer equivalent (use RNN_TANH or LSTM)", cfg.Family)
	default:
		return nil, errors.Errorf("model: unsupported family %q", cfg.Family)
	}
}

func (cfg Config) validate() error {
	if cfg.NTokens < 1 {
		return errors.Errorf("model: vocabulary size must be positive, got %d", cfg.NTokens)
	}
	if cfg.EmbedSize < 1 || cfg.Hidden < 1 || cfg.Layers < 1 {
		return errors.Errorf("model: bad architecture sizing emsize=%d nhid=%d nlayers=%d",
			cfg.EmbedSize, cfg.Hidden, cfg.Layers)
	}
	if cfg.Order < 1 {
		return errors.Errorf("model: norder must be positive, got %d", cfg.Order)
	}
	if cfg.Family == "Transformer" {
		if cfg.BPTT < 1 {
			return errors.Errorf("model: transformer needs a positive context window, got %d", cfg.BPTT)
		}
		if cfg.EmbedSize%cfg.Order != 0 {
			return errors.Errorf("model: emsize %d not divisible by %d attention heads", cfg.EmbedSize, cfg.Order)
		}
	}
	return nil
}

func embeddingLayer(vocab, dim int) nn.LayerConfig {
	weights := make([]float32, vocab*dim)
	for i := range weights {
		weights[i] = rand.Float32()*0.1 - 0.05
	}
	return nn.LayerConfig{
		Type:             nn.LayerEmbedding,
		VocabSize:        vocab,
		EmbeddingDim:     dim,
		EmbeddingWeights: weights,
	}
}
