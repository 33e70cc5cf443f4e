package batch

import "testing"

func alphabetStream(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func TestBatchifyShape(t *testing.T) {
	g, err := Batchify(alphabetStream(26), 4)
	if err != nil {
		t.Fatalf("Batchify: %v", err)
	}
	if g.Rows != 6 || g.Cols != 4 {
		t.Fatalf("expected 6x4 grid, got %dx%d", g.Rows, g.Cols)
	}
	// Column c holds chunk c of length 6; row t is [t, 6+t, 12+t, 18+t].
	for tpos := 0; tpos < g.Rows; tpos++ {
		row := g.Row(tpos)
		for c := 0; c < g.Cols; c++ {
			want := c*6 + tpos
			if row[c] != want {
				t.Errorf("row %d col %d: got %d, want %d", tpos, c, row[c], want)
			}
		}
	}
	// Tokens 24 and 25 are the dropped remainder.
	for _, tok := range g.Tokens {
		if tok >= 24 {
			t.Errorf("remainder token %d should have been dropped", tok)
		}
	}
}

func TestBatchifyRowCount(t *testing.T) {
	for _, tc := range []struct{ n, cols, rows int }{
		{100, 7, 14},
		{64, 8, 8},
		{9, 4, 2},
		{4, 4, 1},
	} {
		g, err := Batchify(alphabetStream(tc.n), tc.cols)
		if err != nil {
			t.Fatalf("Batchify(%d, %d): %v", tc.n, tc.cols, err)
		}
		if g.Rows != tc.rows {
			t.Errorf("Batchify(%d, %d): got %d rows, want %d", tc.n, tc.cols, g.Rows, tc.rows)
		}
		if len(g.Tokens) != tc.rows*tc.cols {
			t.Errorf("Batchify(%d, %d): got %d tokens, want %d", tc.n, tc.cols, len(g.Tokens), tc.rows*tc.cols)
		}
	}
}

func TestBatchifyDegenerate(t *testing.T) {
	if _, err := Batchify(alphabetStream(10), 0); err == nil {
		t.Error("expected error for zero columns")
	}
	if _, err := Batchify(alphabetStream(3), 4); err == nil {
		t.Error("expected error for stream shorter than column count")
	}
}

func TestSequentialWindow(t *testing.T) {
	g, _ := Batchify(alphabetStream(26), 4)
	w := g.Window(0, 2)
	if w.Length != 2 || w.Order != 0 {
		t.Fatalf("got length %d order %d, want 2 0", w.Length, w.Order)
	}
	// data = rows 0..1, targets = rows 1..2 flattened.
	wantData := []int{0, 6, 12, 18, 1, 7, 13, 19}
	wantTargets := []int{1, 7, 13, 19, 2, 8, 14, 20}
	for i := range wantData {
		if w.Data[i] != wantData[i] {
			t.Errorf("data[%d]: got %d, want %d", i, w.Data[i], wantData[i])
		}
		if w.Targets[i] != wantTargets[i] {
			t.Errorf("targets[%d]: got %d, want %d", i, w.Targets[i], wantTargets[i])
		}
	}
}

func TestSequentialWindowShiftInvariant(t *testing.T) {
	g, _ := Batchify(alphabetStream(101), 5)
	for i := 0; i < g.Rows-1; i += 7 {
		w := g.Window(i, 7)
		if w.Length > 7 {
			t.Fatalf("window at %d exceeds bptt: %d", i, w.Length)
		}
		if len(w.Targets) != w.Length*w.Cols || len(w.Data) != w.Length*w.Cols {
			t.Fatalf("window at %d has inconsistent sizes", i)
		}
		for p := range w.Data {
			tpos := p / w.Cols
			c := p % w.Cols
			if w.Targets[p] != g.Row(i+tpos+1)[c] {
				t.Errorf("target at window %d pos %d is not the next token", i, p)
			}
		}
	}
}

func TestSequentialWindowTruncatedFinal(t *testing.T) {
	g, _ := Batchify(alphabetStream(26), 4) // 6 rows
	w := g.Window(4, 10)
	if w.Length != 1 {
		t.Errorf("final window length: got %d, want 1", w.Length)
	}
	w = g.Window(5, 10) // last row has no next token
	if w.Length != 0 {
		t.Errorf("window at last row: got length %d, want 0", w.Length)
	}
}

func TestPaddedWindow(t *testing.T) {
	g, _ := Batchify(alphabetStream(26), 4)
	prefix := PadPrefix(3, 100, 99, false)
	w := g.PaddedWindow(0, 4, prefix)
	if w.Length != 4 || w.Order != 3 {
		t.Fatalf("got length %d order %d, want 4 3", w.Length, w.Order)
	}
	if len(w.Data) != (w.Order+w.Length-1)*w.Cols {
		t.Fatalf("data size %d, want %d", len(w.Data), (w.Order+w.Length-1)*w.Cols)
	}
	if len(w.Targets) != w.Length*w.Cols {
		t.Fatalf("targets size %d, want %d", len(w.Targets), w.Length*w.Cols)
	}
	// All prefix rows hold the pad id.
	for p := 0; p < w.Order*w.Cols; p++ {
		if w.Data[p] != 99 {
			t.Errorf("prefix position %d: got %d, want pad id 99", p, w.Data[p])
		}
	}
	// The first real token is itself a target: one more prediction than
	// the sequential window at the same start.
	for c := 0; c < w.Cols; c++ {
		if w.Targets[c] != g.Row(0)[c] {
			t.Errorf("first target col %d: got %d, want %d", c, w.Targets[c], g.Row(0)[c])
		}
	}
	seq := g.Window(0, 4)
	if seq.Targets[0] != g.Row(1)[0] {
		t.Errorf("sequential mode must not predict the first row")
	}
}

func TestPaddedWindowTruncatedFinal(t *testing.T) {
	g, _ := Batchify(alphabetStream(26), 4) // 6 rows
	prefix := PadPrefix(2, 100, 99, false)
	w := g.PaddedWindow(5, 4, prefix)
	if w.Length != 1 {
		t.Fatalf("final padded window length: got %d, want 1", w.Length)
	}
	// Data is the prefix alone; the single target is the last row.
	if len(w.Data) != w.Order*w.Cols {
		t.Errorf("final padded window data size %d, want %d", len(w.Data), w.Order*w.Cols)
	}
	for c := 0; c < w.Cols; c++ {
		if w.Targets[c] != g.Row(5)[c] {
			t.Errorf("final target col %d: got %d, want %d", c, w.Targets[c], g.Row(5)[c])
		}
	}
}

func TestPadPrefixVocabExtension(t *testing.T) {
	prefix := PadPrefix(4, 120, 7, true)
	want := []int{116, 117, 118, 119}
	for i := range want {
		if prefix[i] != want[i] {
			t.Errorf("prefix[%d]: got %d, want %d", i, prefix[i], want[i])
		}
	}
	prefix = PadPrefix(4, 120, 7, false)
	for i, id := range prefix {
		if id != 7 {
			t.Errorf("prefix[%d]: got %d, want pad id 7", i, id)
		}
	}
}
