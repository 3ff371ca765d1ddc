package model

import "github.com/rushteam/frecency/core"

// HingeLoss 是多分类 hinge（SVM）损失。
//
// 对每个未被选中的候选 i，若 m = score_i - score_selected + Margin > 0，
// 则 loss += m，gradient += features_i - features_selected。
// Margin 为 0 时，只要选中项分数最高（含并列），损失与梯度均为 0。
type HingeLoss struct {
	Margin float64
}

func (l HingeLoss) Name() string { return "hinge" }

func (l HingeLoss) Compute(features []core.Vector, scores []float64, selected int) (float64, core.Vector) {
	var grad core.Vector
	n := len(scores)
	if n == 0 || len(features) != n || selected < 0 || selected >= n {
		return 0, grad
	}

	var loss float64
	target := scores[selected]
	for i := 0; i < n; i++ {
		if i == selected {
			continue
		}
		m := scores[i] - target + l.Margin
		if m <= 0 {
			continue
		}
		loss += m
		grad = grad.Add(features[i].Sub(features[selected]))
	}
	return loss, grad
}
