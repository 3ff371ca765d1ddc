package study

import (
	"fmt"
	"sort"

	"github.com/rushteam/frecency/core"
)

// ErrUnknownBranch 表示 variation 名称不在分组表中。
var ErrUnknownBranch = core.NewDomainError(core.ModuleStudy, core.ErrorCodeInvalidInput, "study: unknown branch")

// Branch 是一个实验分组。
type Branch struct {
	Name string

	// ModelNumber 为 0 表示对照组，没有个性化模型
	ModelNumber int

	// SubmitFrecencyUpdate 为 true 时应用权重更新并发送 frecency-update ping
	SubmitFrecencyUpdate bool
}

// HasModel 是否为实验组
func (b Branch) HasModel() bool { return b.ModelNumber > 0 }

// Branches 是全部分组。
var Branches = map[string]Branch{
	"control":               {Name: "control"},
	"model1":                {Name: "model1", ModelNumber: 1, SubmitFrecencyUpdate: true},
	"model2":                {Name: "model2", ModelNumber: 2, SubmitFrecencyUpdate: true},
	"model3-submitting":     {Name: "model3-submitting", ModelNumber: 3, SubmitFrecencyUpdate: true},
	"model3-not-submitting": {Name: "model3-not-submitting", ModelNumber: 3},
	"model4-submitting":     {Name: "model4-submitting", ModelNumber: 4, SubmitFrecencyUpdate: true},
	"model4-not-submitting": {Name: "model4-not-submitting", ModelNumber: 4},
}

// LookupBranch 按名称查找分组。
func LookupBranch(name string) (Branch, error) {
	b, ok := Branches[name]
	if !ok {
		return Branch{}, ErrUnknownBranch.Wrap(fmt.Errorf("%q (known: %v)", name, BranchNames()))
	}
	return b, nil
}

// BranchNames 返回排序后的分组名。
func BranchNames() []string {
	names := make([]string, 0, len(Branches))
	for n := range Branches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
