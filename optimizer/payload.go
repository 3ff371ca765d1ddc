package optimizer

import (
	"strings"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/feature"
	"github.com/rushteam/frecency/telemetry"
)

// 没有 UI 交互指标时 selected_style 的取值
const (
	StyleNone    = "none"
	StyleUnknown = "unknown"
)

// BuildPayload 由一次 Step 的结果构造遥测载荷。
// Interaction 缺失时 UI 指标由候选列表推导，未知的计数/时间取 schema 允许的哨兵值。
func BuildPayload(ev *core.InteractionEvent, res *Result, cfg Config) *telemetry.Payload {
	scores := res.Scores
	if scores == nil {
		scores = []float64{}
	}
	p := &telemetry.Payload{
		ModelVersion:   res.ModelVersion,
		FrecencyScores: append([]float64{}, scores...),
		Loss:           res.Loss,
		Update:         res.Gradient.Slice(),

		NumSuggestionsDisplayed:                   len(ev.Candidates),
		RankSelected:                              res.Selected,
		BookmarkAndHistoryNumSuggestionsDisplayed: len(ev.Candidates),
		BookmarkAndHistoryRankSelected:            res.Selected,
		NumKeyDownEventsAtSelectedsFirstEntry:     -1,
		NumKeyDownEvents:                          max(ev.NumTypedChars, 0),

		TimeAtSelectedsFirstEntry: -1,

		SearchStringLength:               ev.SearchLength(),
		SelectedURLWasSameAsSearchString: sameAsSearch(ev, res.Selected),
		EnterWasPressed:                  -1,

		StudyVariation:    cfg.Variation,
		StudyAddonVersion: cfg.AddonVersion,
	}

	if ui := ev.Interaction; ui != nil {
		p.NumSuggestionsDisplayed = max(ui.NumSuggestionsDisplayed, len(ev.Candidates))
		p.RankSelected = max(ui.RankSelected, core.NoSelection)
		p.NumKeyDownEvents = max(ui.NumKeyDownEvents, 0)
		p.NumKeyDownEventsAtSelectedsFirstEntry = max(ui.NumKeyDownEventsAtSelectedsFirstEntry, -1)
		p.TimeStartInteraction = max(ui.TimeStartInteraction, 0)
		p.TimeEndInteraction = max(ui.TimeEndInteraction, 0)
		p.TimeAtSelectedsFirstEntry = max(ui.TimeAtSelectedsFirstEntry, -1)
		p.SelectedStyle = ui.SelectedStyle
		p.EnterWasPressed = 0
		if ui.EnterWasPressed {
			p.EnterWasPressed = 1
		}
	}
	if p.SelectedStyle == "" {
		p.SelectedStyle = StyleUnknown
		if res.Selected == core.NoSelection && p.RankSelected == core.NoSelection {
			p.SelectedStyle = StyleNone
		}
	}
	return p
}

// sameAsSearch：-1 表示没有选中，1 表示选中 URL 与输入一致（忽略协议、www. 与结尾斜杠）。
func sameAsSearch(ev *core.InteractionEvent, selected int) int {
	if selected == core.NoSelection {
		return -1
	}
	search := normalizeForCompare(ev.SearchString)
	if search == "" {
		return 0
	}
	if normalizeForCompare(ev.Candidates[selected].URL) == search {
		return 1
	}
	return 0
}

func normalizeForCompare(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(feature.StripURL(s), "/")
}
