package core

import "math"

// Dim 是权重向量与单个候选特征向量的固定长度。
const Dim = 22

// Vector 是定长数值向量：权重、单个候选的特征、梯度都用它表示。
// 使用数组而不是 slice，长度不变量由类型保证。
type Vector [Dim]float64

// Dot 返回两个向量的点积。
func (v Vector) Dot(o Vector) float64 {
	var s float64
	for i := range v {
		s += v[i] * o[i]
	}
	return s
}

// Add 返回 v + o。
func (v Vector) Add(o Vector) Vector {
	for i := range v {
		v[i] += o[i]
	}
	return v
}

// Sub 返回 v - o。
func (v Vector) Sub(o Vector) Vector {
	for i := range v {
		v[i] -= o[i]
	}
	return v
}

// Scale 返回 k * v。
func (v Vector) Scale(k float64) Vector {
	for i := range v {
		v[i] *= k
	}
	return v
}

// IsZero 判断是否为零向量。
func (v Vector) IsZero() bool {
	return v == Vector{}
}

// IsFinite 判断所有分量都不是 NaN/Inf。
func (v Vector) IsFinite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Slice 返回分量的副本，用于 JSON/遥测。
func (v Vector) Slice() []float64 {
	out := make([]float64, Dim)
	copy(out, v[:])
	return out
}

// VectorFromSlice 从 slice 构造 Vector，长度必须恰好为 Dim。
func VectorFromSlice(s []float64) (Vector, bool) {
	var v Vector
	if len(s) != Dim {
		return v, false
	}
	copy(v[:], s)
	return v, true
}
