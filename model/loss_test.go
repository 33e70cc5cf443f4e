package model

import (
	"math"
	"testing"
)

func TestCrossEntropyUniform(t *testing.T) {
	const ntok = 8
	logits := make([]float32, 2*ntok) // two rows of equal logits
	grad := make([]float32, 2*ntok)

	loss := crossEntropy(logits, []int{3, 5}, ntok, 1, grad)
	want := 2 * math.Log(ntok)
	if math.Abs(loss-want) > 1e-4 {
		t.Errorf("uniform loss: got %f, want %f", loss, want)
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	const ntok = 5
	logits := []float32{0.2, -1.3, 2.0, 0.0, 0.7}
	grad := make([]float32, ntok)
	crossEntropy(logits, []int{2}, ntok, 1, grad)

	// Gradient rows sum to zero (softmax minus one-hot).
	var sum float64
	for _, g := range grad {
		sum += float64(g)
	}
	if math.Abs(sum) > 1e-5 {
		t.Errorf("gradient sum: got %g, want 0", sum)
	}
	// The target coordinate is pushed up (negative gradient), all others down.
	if grad[2] >= 0 {
		t.Errorf("target gradient should be negative, got %f", grad[2])
	}
	for i, g := range grad {
		if i != 2 && g <= 0 {
			t.Errorf("non-target gradient %d should be positive, got %f", i, g)
		}
	}
}

func TestCrossEntropyScale(t *testing.T) {
	const ntok = 4
	logits := []float32{1, 2, 3, 4}
	g1 := make([]float32, ntok)
	g2 := make([]float32, ntok)
	crossEntropy(logits, []int{0}, ntok, 1, g1)
	crossEntropy(logits, []int{0}, ntok, 0.25, g2)
	for i := range g1 {
		if math.Abs(float64(g1[i]*0.25-g2[i])) > 1e-6 {
			t.Errorf("scale not applied at %d: %f vs %f", i, g1[i], g2[i])
		}
	}
}

func TestCrossEntropyConfidentPrediction(t *testing.T) {
	const ntok = 3
	logits := []float32{10, -10, -10}
	grad := make([]float32, ntok)
	loss := crossEntropy(logits, []int{0}, ntok, 1, grad)
	if loss > 0.01 {
		t.Errorf("confident correct prediction should have near-zero loss, got %f", loss)
	}
	logits = []float32{-10, 10, -10}
	if loss = crossEntropy(logits, []int{0}, ntok, 1, grad); loss < 5 {
		t.Errorf("confident wrong prediction should have large loss, got %f", loss)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	base := Config{Family: "LSTM", NTokens: 10, Order: 2, EmbedSize: 4, Hidden: 4, Layers: 1, BPTT: 8}

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown family", func(c *Config) { c.Family = "Bigram" }},
		{"gru unsupported", func(c *Config) { c.Family = "GRU" }},
		{"rnn relu unsupported", func(c *Config) { c.Family = "RNN_RELU" }},
		{"zero vocab", func(c *Config) { c.NTokens = 0 }},
		{"zero layers", func(c *Config) { c.Layers = 0 }},
		{"zero order", func(c *Config) { c.Order = 0 }},
		{"transformer without context", func(c *Config) { c.Family = "Transformer"; c.BPTT = 0 }},
		{"heads not dividing emsize", func(c *Config) { c.Family = "Transformer"; c.Order = 3 }},
	} {
		cfg := base
		tc.mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected configuration error", tc.name)
		}
	}
}
