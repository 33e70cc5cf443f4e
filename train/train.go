// Package train drives the epoch loop: contiguous training sub-intervals
// over the batched stream, a validation pass after each one, best-model
// checkpointing, and patience-based learning rate decay on plateau.
package train

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openfluke/loom/nn"
	"github.com/pkg/errors"

	"github.com/janmbuys/word-language-model/batch"
	"github.com/janmbuys/word-language-model/model"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
)

// Config carries the run's optimization and cadence settings.
type Config struct {
	Optimizer    string // "adamw" or "sgd"
	LR           float64
	Clip         float64 // max gradient norm; non-positive disables clipping
	DecayRate    float64
	WeightDecay  float64
	Epochs       int
	BPTT         int
	EvalInterval int // validation evaluations per epoch
	Patience     int
	LogInterval  int // batches between progress lines; 0 silences them
	SavePath     string
	DryRun       bool
	PadPrefix    []int // synthetic context ids for padded-mode models
}

// EvalRecord is one validation evaluation in the run history.
type EvalRecord struct {
	Epoch    int     `json:"epoch"`
	Interval int     `json:"interval"`
	LR       float64 `json:"lr"`
	Loss     float64 `json:"loss"`
	PPL      float64 `json:"ppl"`
	Seconds  float64 `json:"seconds"`
}

// Result summarizes a finished run.
type Result struct {
	RunID       string       `json:"runId"`
	Model       string       `json:"model"`
	BestValLoss float64      `json:"bestValLoss"`
	TestLoss    float64      `json:"testLoss"`
	TestPPL     float64      `json:"testPpl"`
	Interrupted bool         `json:"interrupted"`
	Records     []EvalRecord `json:"evaluations"`
}

// WriteJSON saves the run history artifact.
func (r *Result) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "train: marshal history")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "train: write history")
}

// Trainer owns the model, the batched train/validation grids, and the
// mutable control state for one run.
type Trainer struct {
	model  model.Model
	train  *batch.Grid
	valid  *batch.Grid
	cfg    Config
	state  State
	result Result
	saved  bool
}

// NewTrainer validates the configuration; every violation here is fatal
// before any training work starts.
func NewTrainer(m model.Model, trainGrid, validGrid *batch.Grid, cfg Config) (*Trainer, error) {
	switch cfg.Optimizer {
	case "adamw", "sgd":
	default:
		return nil, errors.Errorf("train: specified optimizer %q not supported", cfg.Optimizer)
	}
	if cfg.BPTT < 1 {
		return nil, errors.Errorf("train: bptt must be positive, got %d", cfg.BPTT)
	}
	if cfg.Epochs < 1 {
		return nil, errors.Errorf("train: epoch limit must be positive, got %d", cfg.Epochs)
	}
	if cfg.EvalInterval < 1 {
		return nil, errors.Errorf("train: train-eval-interval must be positive, got %d", cfg.EvalInterval)
	}
	if trainGrid.Rows/cfg.EvalInterval < 1 {
		return nil, errors.Errorf("train: %d training rows cannot cover %d sub-intervals",
			trainGrid.Rows, cfg.EvalInterval)
	}
	if cfg.DecayRate <= 0 {
		return nil, errors.Errorf("train: lr decay rate must be positive, got %g", cfg.DecayRate)
	}
	if cfg.Patience < 0 {
		return nil, errors.Errorf("train: patience must be non-negative, got %d", cfg.Patience)
	}
	if cfg.SavePath == "" {
		return nil, errors.New("train: checkpoint save path is required")
	}
	if m.Padded() && len(cfg.PadPrefix) == 0 {
		return nil, errors.New("train: padded-mode model needs a pad prefix")
	}
	return &Trainer{
		model: m,
		train: trainGrid,
		valid: validGrid,
		cfg:   cfg,
		state: State{LR: cfg.LR},
		result: Result{
			RunID: uuid.New().String(),
			Model: m.Name(),
		},
	}, nil
}

// intervalCuts splits rows into n equal contiguous sub-intervals, with the
// final cut pinned to the last predictable position.
func intervalCuts(rows, n int) []int {
	frac := rows / n
	cuts := make([]int, 0, n+1)
	for i := 0; i < n; i++ {
		cuts = append(cuts, frac*i)
	}
	cuts = append(cuts, rows-1)
	return cuts
}

// Run executes the epoch loop until the epoch limit or ctx cancellation.
// Cancellation stops training cleanly between sub-intervals; the last good
// checkpoint stays intact and the caller proceeds to final evaluation.
func (t *Trainer) Run(ctx context.Context) error {
	cuts := intervalCuts(t.train.Rows, t.cfg.EvalInterval)
	epochs := t.cfg.Epochs
	if t.cfg.DryRun {
		epochs = 1
	}

	for epoch := 1; epoch <= epochs; epoch++ {
		epochStart := time.Now()
		for k := 0; k < t.cfg.EvalInterval; k++ {
			if err := t.trainRange(ctx, epoch, cuts[k], cuts[k+1]); err != nil {
				return err
			}
			if ctx.Err() != nil {
				fmt.Println(strings.Repeat("-", 89))
				fmt.Println("Exiting from training early")
				t.result.Interrupted = true
				return nil
			}

			valLoss := Evaluate(t.model, t.valid, t.cfg.BPTT, t.cfg.PadPrefix)
			if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
				return errors.Errorf("train: non-finite validation loss %f at epoch %d", valLoss, epoch)
			}
			elapsed := time.Since(epochStart).Seconds()
			fmt.Println(strings.Repeat("-", 89))
			fmt.Printf("| end of epoch %3d | time: %5.2fs | valid loss %5.2f | valid ppl %8.2f\n",
				epoch, elapsed, valLoss, math.Exp(valLoss))
			fmt.Println(strings.Repeat("-", 89))
			t.result.Records = append(t.result.Records, EvalRecord{
				Epoch:    epoch,
				Interval: k,
				LR:       t.state.LR,
				Loss:     valLoss,
				PPL:      math.Exp(valLoss),
				Seconds:  elapsed,
			})

			switch t.state.Observe(valLoss, t.cfg.Patience, t.cfg.DecayRate) {
			case Improved:
				if err := model.SaveCheckpoint(t.model, t.cfg.SavePath); err != nil {
					return err
				}
				t.saved = true
			case Decay:
				fmt.Printf("Decay LR to %.6f\n", t.state.LR)
			}
		}
	}
	return nil
}

// trainRange optimizes over grid rows [start, end), striding bptt.
func (t *Trainer) trainRange(ctx context.Context, epoch, start, end int) error {
	if s, ok := t.model.(model.Stateful); ok {
		s.ResetHidden(t.train.Cols)
	}
	net := t.model.Net()
	nbatches := t.train.Rows / t.cfg.BPTT

	var total float64
	var count, sinceLog, batchIdx int
	logStart := time.Now()

	for i := start; i < end; i += t.cfg.BPTT {
		if ctx.Err() != nil {
			return nil
		}
		var w batch.Window
		if t.model.Padded() {
			w = t.train.PaddedWindow(i, t.cfg.BPTT, t.cfg.PadPrefix)
		} else {
			w = t.train.Window(i, t.cfg.BPTT)
		}
		if w.Length == 0 {
			continue
		}

		loss, n := t.model.TrainWindow(w)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return errors.Errorf("train: non-finite training loss at epoch %d batch %d", epoch, batchIdx)
		}
		if t.cfg.Clip > 0 {
			kernels, biases := t.model.Gradients()
			scaleToNorm(kernels, biases, t.cfg.Clip)
		}
		t.model.FlushGradients()
		t.applyStep(net)

		total += loss
		count += n
		batchIdx++
		sinceLog++

		if t.cfg.LogInterval > 0 && batchIdx%t.cfg.LogInterval == 0 && count > 0 {
			cur := total / float64(count)
			elapsed := time.Since(logStart)
			fmt.Printf("| epoch %3d | %5d/%5d batches | lr %.6f | ms/batch %5.2f | loss %5.2f | ppl %8.2f\n",
				epoch, batchIdx, nbatches, t.state.LR,
				float64(elapsed.Milliseconds())/float64(sinceLog), cur, math.Exp(cur))
			total, count, sinceLog = 0, 0, 0
			logStart = time.Now()
		}
		if t.cfg.DryRun {
			break
		}
	}
	return nil
}

func (t *Trainer) applyStep(net *nn.Network) {
	if t.cfg.Optimizer == "sgd" {
		// Plain gradient descent at the current rate.
		net.ApplyGradients(float32(t.state.LR))
		return
	}
	net.ApplyGradientsAdamW(float32(t.state.LR), adamBeta1, adamBeta2, float32(t.cfg.WeightDecay))
}

// CheckpointSaved reports whether any improving evaluation persisted a
// checkpoint during the run.
func (t *Trainer) CheckpointSaved() bool { return t.saved }

// Summary returns the run record for reporting and the history artifact.
func (t *Trainer) Summary() *Result {
	t.result.BestValLoss = t.state.Best
	return &t.result
}

// Evaluate scores an entire split in inference mode and returns the
// token-count-weighted mean negative log-likelihood. Deterministic for a
// fixed model.
func Evaluate(m model.Model, g *batch.Grid, bptt int, padPrefix []int) float64 {
	if s, ok := m.(model.Stateful); ok {
		s.ResetHidden(g.Cols)
	}
	var total float64
	var count int
	for i := 0; i < g.Rows-1; i += bptt {
		var w batch.Window
		if m.Padded() {
			w = g.PaddedWindow(i, bptt, padPrefix)
		} else {
			w = g.Window(i, bptt)
		}
		loss, n := m.ScoreWindow(w)
		total += loss
		count += n
	}
	if count == 0 {
		return math.Inf(1)
	}
	return total / float64(count)
}

// scaleToNorm rescales the accumulated kernel and bias gradients in place
// so their combined global L2 norm does not exceed max.
func scaleToNorm(kernels, biases [][]float32, max float64) {
	var sum float64
	for _, layer := range kernels {
		for _, v := range layer {
			sum += float64(v) * float64(v)
		}
	}
	for _, layer := range biases {
		for _, v := range layer {
			sum += float64(v) * float64(v)
		}
	}
	norm := math.Sqrt(sum)
	if norm <= max {
		return
	}
	scale := float32(max / (norm + 1e-6))
	for _, layer := range kernels {
		for i := range layer {
			layer[i] *= scale
		}
	}
	for _, layer := range biases {
		for i := range layer {
			layer[i] *= scale
		}
	}
}
