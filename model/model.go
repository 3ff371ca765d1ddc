// Package model 提供地址栏候选排序的打分模型与损失函数。
package model

import "github.com/rushteam/frecency/core"

// ScoreModel 是排序阶段的最小抽象：输入特征，输出一个可比较的分数。
type ScoreModel interface {
	Name() string
	Score(features core.Vector) float64
}

// Loss 根据全部候选的特征、分数和真实选中下标计算损失与关于权重的梯度。
// selected 为 core.NoSelection 或越界时必须返回 (0, 零向量)。
type Loss interface {
	Name() string
	Compute(features []core.Vector, scores []float64, selected int) (float64, core.Vector)
}
