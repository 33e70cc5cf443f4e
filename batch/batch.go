package batch

import (
	"github.com/pkg/errors"
)

// Grid is a token stream reshaped into Cols independent columns.
// Starting from sequential data, Batchify arranges the stream into columns.
// With the alphabet as the stream and 4 columns we'd get
//
//	a g m s
//	b h n t
//	c i o u
//	d j p v
//	e k q w
//	f l r x
//
// The columns are treated as independent sequences by the model, so the
// dependence of e.g. 'g' on 'f' cannot be learned, but batches process
// far more efficiently. Storage is position-major: Tokens[t*Cols+c].
type Grid struct {
	Tokens []int
	Rows   int
	Cols   int
}

// Batchify splits stream into cols equal contiguous chunks and transposes
// them so that position t across all columns is one row. Trailing tokens
// that don't fill a full row are dropped.
func Batchify(stream []int, cols int) (*Grid, error) {
	if cols < 1 {
		return nil, errors.Errorf("batch: column count must be positive, got %d", cols)
	}
	rows := len(stream) / cols
	if rows == 0 {
		return nil, errors.Errorf("batch: stream of %d tokens is too short for %d columns", len(stream), cols)
	}
	g := &Grid{
		Tokens: make([]int, rows*cols),
		Rows:   rows,
		Cols:   cols,
	}
	for c := 0; c < cols; c++ {
		chunk := stream[c*rows : (c+1)*rows]
		for t, tok := range chunk {
			g.Tokens[t*cols+c] = tok
		}
	}
	return g, nil
}

// Row returns the tokens at position t, one per column.
func (g *Grid) Row(t int) []int {
	return g.Tokens[t*g.Cols : (t+1)*g.Cols]
}

// Window is one training/evaluation step's (data, target) pair.
// Data and Targets are position-major like the Grid. Length is the number
// of predicted positions; Targets always holds Length*Cols tokens, where
// Targets[t*Cols+c] is the ground-truth next token for column c at step t.
// Order is the synthetic pad prefix length, zero in sequential mode.
type Window struct {
	Data    []int
	Targets []int
	Length  int
	Order   int
	Cols    int
}

// Window slices a sequential-mode window starting at row i. The window
// covers min(bptt, Rows-1-i) positions; data is rows i..i+L-1 and targets
// are the same rows shifted by one. The first row of the grid is never
// predicted in this mode.
func (g *Grid) Window(i, bptt int) Window {
	l := g.Rows - 1 - i
	if l > bptt {
		l = bptt
	}
	if l < 0 {
		l = 0
	}
	return Window{
		Data:    g.Tokens[i*g.Cols : (i+l)*g.Cols],
		Targets: g.Tokens[(i+1)*g.Cols : (i+1+l)*g.Cols],
		Length:  l,
		Cols:    g.Cols,
	}
}

// PaddedWindow slices a pad-start window for fixed-context models. The data
// is prefix (one row per prefix id, replicated across columns) followed by
// rows i..i+L-2; targets are rows i..i+L-1, so the first real token of the
// window is predicted from synthetic context alone. len(prefix) is the
// model's context order.
func (g *Grid) PaddedWindow(i, bptt int, prefix []int) Window {
	l := g.Rows - i
	if l > bptt {
		l = bptt
	}
	if l < 0 {
		l = 0
	}
	order := len(prefix)
	data := make([]int, 0, (order+l-1)*g.Cols)
	for _, id := range prefix {
		for c := 0; c < g.Cols; c++ {
			data = append(data, id)
		}
	}
	if l > 1 {
		data = append(data, g.Tokens[i*g.Cols:(i+l-1)*g.Cols]...)
	}
	return Window{
		Data:    data,
		Targets: g.Tokens[i*g.Cols : (i+l)*g.Cols],
		Length:  l,
		Order:   order,
		Cols:    g.Cols,
	}
}

// PadPrefix builds the synthetic context prefix of the given order.
// With padVocab the prefix uses order distinct reserved ids appended to the
// vocabulary (ntokens-order .. ntokens-1), one per context position;
// otherwise every position uses the single pad id.
func PadPrefix(order, ntokens, padID int, padVocab bool) []int {
	prefix := make([]int, order)
	for k := range prefix {
		if padVocab {
			prefix[k] = ntokens - order + k
		} else {
			prefix[k] = padID
		}
	}
	return prefix
}
