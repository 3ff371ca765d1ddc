// Package dsl 提供基于 CEL 的布尔表达式，用于按配置决定一次遥测是否提交。
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("payload", cel.DynType),
		cel.Variable("study", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Expr 是编译后的过滤表达式，可重复求值，并发安全。
//
// 表达式语法（CEL 标准语法）：
//   - 数值：payload.num_suggestions_displayed > 0
//   - 逻辑：payload.rank_selected >= 0 && payload.loss > 0.0
//   - 字符串：study.variation.startsWith("model3")
//   - 列表：size(payload.frecency_scores) >= 2
//
// 空表达式恒为 true。
type Expr struct {
	source string
	prg    cel.Program
}

// Compile 编译表达式；语法错误或返回值不是 bool 时报错。
func Compile(expr string) (*Expr, error) {
	if expr == "" {
		return &Expr{}, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &Expr{source: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (e *Expr) String() string { return e.source }

// Evaluate 以 payload / study 两个变量求值。
// 访问不存在的 key 会返回错误，判断存在性请使用 has(payload.key)。
func (e *Expr) Evaluate(payload, study map[string]any) (bool, error) {
	if e == nil || e.prg == nil {
		return true, nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if study == nil {
		study = map[string]any{}
	}

	out, _, err := e.prg.Eval(map[string]any{
		"payload": payload,
		"study":   study,
	})
	if err != nil {
		return false, fmt.Errorf("eval error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}
