package train

// Decision is the outcome of one validation evaluation.
type Decision int

const (
	// Improved: strictly better validation loss; checkpoint the model.
	Improved Decision = iota
	// Wait: no improvement, patience not yet exhausted.
	Wait
	// Decay: patience exhausted; the learning rate was just divided.
	Decay
)

// State is the mutable training-control state threaded through the run:
// current learning rate, best validation loss seen, and the count of
// consecutive non-improving evaluations.
type State struct {
	LR      float64
	Best    float64
	HasBest bool
	Strikes int
}

// Observe folds one validation loss into the state. A strictly lower loss
// than the best (or the first ever) resets the strike counter and asks for
// a checkpoint. Otherwise the counter grows; when it reaches patience the
// learning rate is divided by decayRate and the counter resets.
func (s *State) Observe(loss float64, patience int, decayRate float64) Decision {
	if !s.HasBest || loss < s.Best {
		s.Best = loss
		s.HasBest = true
		s.Strikes = 0
		return Improved
	}
	s.Strikes++
	if s.Strikes >= patience {
		s.LR /= decayRate
		s.Strikes = 0
		return Decay
	}
	return Wait
}
