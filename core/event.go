package core

// NoSelection 表示本次搜索会话中用户没有选中任何历史/书签候选。
const NoSelection = -1

// Candidate 是地址栏展示的一条历史/书签建议。
// 排名即其在 InteractionEvent.Candidates 中的下标。
type Candidate struct {
	URL string `json:"url"`

	// Frecency 是宿主 frecency 子系统给出的相关度分数
	Frecency float64 `json:"frecency"`

	// Signals 是宿主提供的 frecency 分解信号，key 为访问类型（typed / link / bookmark ...）
	Signals map[string]float64 `json:"signals,omitempty"`
}

// Interaction 是一次地址栏会话的 UI 交互指标。
// 时间戳单位为毫秒（Unix epoch），未知时为 -1 或 0，与遥测 schema 的最小值一致。
type Interaction struct {
	NumSuggestionsDisplayed               int    `json:"num_suggestions_displayed"`
	RankSelected                          int    `json:"rank_selected"`
	NumKeyDownEvents                      int    `json:"num_key_down_events"`
	NumKeyDownEventsAtSelectedsFirstEntry int    `json:"num_key_down_events_at_selecteds_first_entry"`
	TimeStartInteraction                  int64  `json:"time_start_interaction"`
	TimeEndInteraction                    int64  `json:"time_end_interaction"`
	TimeAtSelectedsFirstEntry             int64  `json:"time_at_selecteds_first_entry"`
	SelectedStyle                         string `json:"selected_style"`
	EnterWasPressed                       bool   `json:"enter_was_pressed"`
}

// InteractionEvent 是一次搜索会话的完整观测，捕获后不再修改，由 Optimizer 消费一次。
type InteractionEvent struct {
	Candidates    []Candidate `json:"candidates"`
	SelectedIndex int    `json:"selected_index"`
	NumTypedChars int    `json:"num_typed_chars"`
	SearchString  string `json:"search_string"`

	// Interaction 为空时，遥测中的 UI 指标按候选列表推导
	Interaction *Interaction `json:"interaction,omitempty"`
}

// Selected 返回规范化后的选中下标：越界或负数一律视为 NoSelection。
func (ev *InteractionEvent) Selected() int {
	if ev == nil || ev.SelectedIndex < 0 || ev.SelectedIndex >= len(ev.Candidates) {
		return NoSelection
	}
	return ev.SelectedIndex
}

// SearchLength 返回输入长度：有搜索串时取其字符数，否则退化为按键计数。
func (ev *InteractionEvent) SearchLength() int {
	if ev == nil {
		return 0
	}
	if n := len([]rune(ev.SearchString)); n > 0 {
		return n
	}
	if ev.NumTypedChars < 0 {
		return 0
	}
	return ev.NumTypedChars
}
