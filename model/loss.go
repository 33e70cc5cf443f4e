package model

import "math"

// crossEntropy scores a batch of logit rows against target ids.
// logits is sample-major (len(targets) rows of ntokens values). grad, the
// same shape, receives the softmax cross-entropy gradient (p - onehot)
// scaled by scale. Returns the summed negative log-likelihood.
func crossEntropy(logits []float32, targets []int, ntokens int, scale float32, grad []float32) float64 {
	var total float64
	for b, target := range targets {
		row := logits[b*ntokens : (b+1)*ntokens]
		g := grad[b*ntokens : (b+1)*ntokens]

		maxVal := row[0]
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		var sumExp float32
		for i, v := range row {
			e := float32(math.Exp(float64(v - maxVal)))
			g[i] = e
			sumExp += e
		}
		for i := range g {
			p := g[i] / sumExp
			g[i] = p * scale
			if i == target {
				g[i] -= scale
				total -= math.Log(float64(p) + 1e-7)
			}
		}
	}
	return total
}
