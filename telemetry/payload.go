// Package telemetry 定义 frecency-update 遥测载荷、schema 校验与提交链路。
package telemetry

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rushteam/frecency/core"
)

// Payload 是一次优化步骤产出的遥测载荷，字段与外部 schema 一一对应。
// 构造后不再修改。
type Payload struct {
	ModelVersion   int       `json:"model_version" validate:"gte=0"`
	FrecencyScores []float64 `json:"frecency_scores" validate:"required,dive,finite"`
	Loss           float64   `json:"loss" validate:"finite,gte=0"`
	Update         []float64 `json:"update" validate:"required,len=22,dive,finite"`

	NumSuggestionsDisplayed                   int `json:"num_suggestions_displayed" validate:"gte=0"`
	RankSelected                              int `json:"rank_selected" validate:"gte=-1"`
	BookmarkAndHistoryNumSuggestionsDisplayed int `json:"bookmark_and_history_num_suggestions_displayed" validate:"gte=0"`
	BookmarkAndHistoryRankSelected            int `json:"bookmark_and_history_rank_selected" validate:"gte=-1"`
	NumKeyDownEventsAtSelectedsFirstEntry     int `json:"num_key_down_events_at_selecteds_first_entry" validate:"gte=-1"`
	NumKeyDownEvents                          int `json:"num_key_down_events" validate:"gte=0"`

	TimeStartInteraction      int64 `json:"time_start_interaction" validate:"gte=0"`
	TimeEndInteraction        int64 `json:"time_end_interaction" validate:"gte=0"`
	TimeAtSelectedsFirstEntry int64 `json:"time_at_selecteds_first_entry" validate:"gte=-1"`

	SearchStringLength               int    `json:"search_string_length" validate:"gte=0"`
	SelectedStyle                    string `json:"selected_style" validate:"required"`
	SelectedURLWasSameAsSearchString int    `json:"selected_url_was_same_as_search_string" validate:"gte=-1,lte=1"`
	EnterWasPressed                  int    `json:"enter_was_pressed" validate:"gte=-1,lte=1"`

	StudyVariation    string `json:"study_variation" validate:"required"`
	StudyAddonVersion string `json:"study_addon_version" validate:"required"`
}

// payloadValidate 是载荷的校验器实例，init 中注册自定义规则。
var payloadValidate *validator.Validate

// RequiredFields 是 schema 中的全部必填字段（按声明顺序）。
var RequiredFields []string

func init() {
	payloadValidate = validator.New()
	_ = payloadValidate.RegisterValidation("finite", validateFinite)

	t := reflect.TypeOf(Payload{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		RequiredFields = append(RequiredFields, name)
	}
}

// validateFinite 拒绝 NaN/Inf：JSON 无法表达这些值，宿主 schema 也会拒绝。
func validateFinite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return true
	}
}

// ErrInvalidPayload 表示载荷未通过 schema 校验，不会被发送。
var ErrInvalidPayload = core.NewDomainError(core.ModuleTelemetry, core.ErrorCodeInvalidPayload, "Invalid telemetry payload")

// Validate 按 schema 校验载荷。
func (p *Payload) Validate() error {
	if p == nil {
		return ErrInvalidPayload
	}
	if err := payloadValidate.Struct(p); err != nil {
		return ErrInvalidPayload.Wrap(err)
	}
	return nil
}

// ValidateJSON 校验宿主传来的原始 JSON：所有必填字段必须出现且非 null，再做类型与取值校验。
func ValidateJSON(raw []byte) (*Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ErrInvalidPayload.Wrap(err)
	}
	var missing []string
	for _, name := range RequiredFields {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, ErrInvalidPayload.Wrap(&MissingFieldsError{Fields: missing})
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidPayload.Wrap(err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// MissingFieldsError 列出缺失的必填字段。
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Map 把载荷展开为 JSON 对象形式（数字为 float64，数组为 []any），供表达式过滤使用。
func (p *Payload) Map() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// StudyFields 返回 study-addon ping 的全字符串形式：数字直接格式化，数组 JSON 编码。
func (p *Payload) StudyFields() map[string]string {
	itoa := strconv.Itoa
	i64 := func(v int64) string { return strconv.FormatInt(v, 10) }
	return map[string]string{
		"model_version":   itoa(p.ModelVersion),
		"frecency_scores": jsonArray(p.FrecencyScores),
		"loss":            formatNumber(p.Loss),
		"update":          jsonArray(p.Update),

		"num_suggestions_displayed":                      itoa(p.NumSuggestionsDisplayed),
		"rank_selected":                                  itoa(p.RankSelected),
		"bookmark_and_history_num_suggestions_displayed": itoa(p.BookmarkAndHistoryNumSuggestionsDisplayed),
		"bookmark_and_history_rank_selected":             itoa(p.BookmarkAndHistoryRankSelected),
		"num_key_down_events_at_selecteds_first_entry":   itoa(p.NumKeyDownEventsAtSelectedsFirstEntry),
		"num_key_down_events":                            itoa(p.NumKeyDownEvents),

		"time_start_interaction":        i64(p.TimeStartInteraction),
		"time_end_interaction":          i64(p.TimeEndInteraction),
		"time_at_selecteds_first_entry": i64(p.TimeAtSelectedsFirstEntry),

		"search_string_length":                   itoa(p.SearchStringLength),
		"selected_style":                         p.SelectedStyle,
		"selected_url_was_same_as_search_string": itoa(p.SelectedURLWasSameAsSearchString),
		"enter_was_pressed":                      itoa(p.EnterWasPressed),

		"study_variation":     p.StudyVariation,
		"study_addon_version": p.StudyAddonVersion,
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func jsonArray(vals []float64) string {
	if vals == nil {
		vals = []float64{}
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(data)
}
