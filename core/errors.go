package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
//
// 使用场景：
//   - Store 错误：NOT_FOUND
//   - Model 错误：NON_FINITE, INVALID_INPUT
//   - Telemetry 错误：INVALID_PAYLOAD
//   - Sync 错误：UNAVAILABLE
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "INVALID_PAYLOAD"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "telemetry", "sync"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 按 Module + Code 比较，使 errors.Is(wrapped, ErrXXX) 在携带底层错误时仍然成立。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// Wrap 基于当前错误派生一个携带底层错误的新实例，原哨兵值不被修改。
func (e *DomainError) Wrap(err error) *DomainError {
	return &DomainError{Module: e.Module, Code: e.Code, Message: e.Message, Err: err}
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound       = "NOT_FOUND"       // 资源不存在
	ErrorCodeUnavailable    = "UNAVAILABLE"     // 服务不可用
	ErrorCodeInvalidInput   = "INVALID_INPUT"   // 输入无效
	ErrorCodeNonFinite      = "NON_FINITE"      // 出现 NaN/Inf
	ErrorCodeInvalidPayload = "INVALID_PAYLOAD" // 遥测载荷未通过 schema 校验
	ErrorCodeBusy           = "BUSY"            // 上一个 step 尚未结束
	ErrorCodeInternalError  = "INTERNAL_ERROR"  // 内部错误
)

// 模块名称常量
const (
	ModuleStore     = "store"
	ModuleModel     = "model"
	ModuleTelemetry = "telemetry"
	ModuleSync      = "sync"
	ModuleStudy     = "study"
	ModuleOptimizer = "optimizer"
	ModuleObserver  = "observer"
)

// ErrNonFinite 表示梯度、学习率或权重中出现了 NaN/Inf。
var ErrNonFinite = NewDomainError(ModuleModel, ErrorCodeNonFinite, "model: non-finite value")

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeUnavailable
	}
	return false
}

// IsInvalidPayload 检查错误是否为遥测载荷校验失败
func IsInvalidPayload(err error) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeInvalidPayload
	}
	return false
}
