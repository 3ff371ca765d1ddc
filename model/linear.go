package model

import (
	"math"

	"github.com/rushteam/frecency/core"
)

// Linear 是线性打分模型，持有唯一的权重向量。
//
// 预测原理：score = sum(Weight_i * Feature_i)
//
// 权重只在 ApplyUpdate / SetWeights 中被修改；调用方保证同一时刻只有一个写者
// （Optimizer 的 update 阶段），因此这里不加锁。
type Linear struct {
	weights core.Vector
}

// NewLinear 以给定初始权重创建模型。
func NewLinear(weights core.Vector) *Linear {
	return &Linear{weights: weights}
}

func (m *Linear) Name() string { return "linear" }

// Score 是权重与特征的点积，无副作用。
func (m *Linear) Score(features core.Vector) float64 {
	return m.weights.Dot(features)
}

// ApplyUpdate 原地执行一次梯度下降：weight[i] -= learningRate * gradient[i]。
// 梯度或学习率不是有限值时返回 core.ErrNonFinite，权重保持不变。
func (m *Linear) ApplyUpdate(gradient core.Vector, learningRate float64) error {
	if math.IsNaN(learningRate) || math.IsInf(learningRate, 0) || !gradient.IsFinite() {
		return core.ErrNonFinite
	}
	next := m.weights.Sub(gradient.Scale(learningRate))
	if !next.IsFinite() {
		return core.ErrNonFinite
	}
	m.weights = next
	return nil
}

// Weights 返回当前权重的副本。
func (m *Linear) Weights() core.Vector {
	return m.weights
}

// SetWeights 整体替换权重（模型同步加载时使用）。
func (m *Linear) SetWeights(w core.Vector) {
	m.weights = w
}
