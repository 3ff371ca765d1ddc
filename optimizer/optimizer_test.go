package optimizer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/feature"
	"github.com/rushteam/frecency/metrics"
	"github.com/rushteam/frecency/model"
	"github.com/rushteam/frecency/pipeline"
	"github.com/rushteam/frecency/telemetry"
)

// recordingReporter 记录提交的载荷，可选择返回错误。
type recordingReporter struct {
	mu       sync.Mutex
	payloads []*telemetry.Payload
	flags    []bool
	err      error
}

func (r *recordingReporter) Submit(_ context.Context, p *telemetry.Payload, submit bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if err := p.Validate(); err != nil {
		return false, err
	}
	r.payloads = append(r.payloads, p)
	r.flags = append(r.flags, submit)
	return true, nil
}

// twoCandidates: A 排在第一（relevance 0.9），B 排在第二（relevance 0.5）。
func twoCandidates(selected int) core.InteractionEvent {
	return core.InteractionEvent{
		Candidates: []core.Candidate{
			{URL: "https://a.example.com/", Frecency: 0.9},
			{URL: "https://b.example.com/", Frecency: 0.5},
		},
		SelectedIndex: selected,
		NumTypedChars: 1,
		SearchString:  "b",
	}
}

func newOptimizer(t *testing.T, cfg Config, rep Reporter, opts ...Option) (*Optimizer, *model.Linear) {
	t.Helper()
	m := model.NewLinear(feature.DefaultWeights())
	o, err := New(cfg, m, rep, opts...)
	require.NoError(t, err)
	return o, m
}

var submitting = Config{Variation: "model1", AddonVersion: "1.0.0", SubmitFrecencyUpdate: true, LearningRate: 0.05}

func TestStep_LowerRankedSelectionUpdatesTowardSelection(t *testing.T) {
	rep := &recordingReporter{}
	o, m := newOptimizer(t, submitting, rep)
	before := m.Weights()

	ev := twoCandidates(1)
	res, err := o.Step(context.Background(), ev)
	require.NoError(t, err)

	require.Len(t, res.Scores, 2)
	assert.Greater(t, res.Scores[0], res.Scores[1], "A should score higher under initial weights")
	assert.Greater(t, res.Loss, 0.0)
	assert.True(t, res.Applied)
	assert.Equal(t, 0, res.ModelVersion)
	assert.Equal(t, 1, o.Version())
	assert.NotEqual(t, before, m.Weights())

	// 同一组特征在更新后 B 相对 A 的分差缩小
	after := []float64{m.Score(res.Features[0]), m.Score(res.Features[1])}
	assert.Less(t, after[0]-after[1], res.Scores[0]-res.Scores[1])

	require.Len(t, rep.payloads, 1)
	p := rep.payloads[0]
	assert.True(t, rep.flags[0])
	assert.Equal(t, res.Scores, p.FrecencyScores)
	assert.Equal(t, res.Loss, p.Loss)
	assert.Len(t, p.Update, core.Dim)
	assert.Equal(t, 1, p.RankSelected)
	assert.Equal(t, 2, p.NumSuggestionsDisplayed)
	assert.Equal(t, "model1", p.StudyVariation)
	assert.Equal(t, "1.0.0", p.StudyAddonVersion)
	assert.True(t, res.Sent)
}

func TestStep_RepeatedUpdatesEventuallyRankSelectionFirst(t *testing.T) {
	o, _ := newOptimizer(t, Config{Variation: "model2", AddonVersion: "1", SubmitFrecencyUpdate: true, LearningRate: 0.5}, nil)
	var res *Result
	var err error
	for i := 0; i < 50; i++ {
		res, err = o.Step(context.Background(), twoCandidates(1))
		require.NoError(t, err)
		if res.Loss == 0 {
			break
		}
	}
	assert.Equal(t, 0.0, res.Loss)
	assert.True(t, res.Gradient.IsZero())
	assert.GreaterOrEqual(t, res.Scores[1], res.Scores[0])
}

func TestStep_TopSelectionHasZeroLoss(t *testing.T) {
	o, m := newOptimizer(t, submitting, nil)
	before := m.Weights()

	res, err := o.Step(context.Background(), twoCandidates(0))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Loss, 1e-12)
	assert.True(t, res.Gradient.IsZero())
	assert.False(t, res.Applied)
	assert.Equal(t, before, m.Weights())
	assert.Equal(t, 0, o.Version())
}

func TestStep_ControlBranchNeverUpdates(t *testing.T) {
	rep := &recordingReporter{}
	o, m := newOptimizer(t, Config{Variation: "control", AddonVersion: "1.0.0"}, rep)
	before := m.Weights()

	res, err := o.Step(context.Background(), twoCandidates(1))
	require.NoError(t, err)
	assert.Greater(t, res.Loss, 0.0, "loss is still computed")
	assert.False(t, res.Gradient.IsZero())
	assert.False(t, res.Applied)
	assert.Equal(t, before, m.Weights())

	require.Len(t, rep.payloads, 1)
	assert.False(t, rep.flags[0])
	assert.Equal(t, res.Gradient.Slice(), rep.payloads[0].Update)
}

func TestStep_NoSelectionAndMalformedEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   core.InteractionEvent
	}{
		{"no selection", twoCandidates(core.NoSelection)},
		{"selection out of range", twoCandidates(5)},
		{"negative selection", twoCandidates(-3)},
		{"no candidates", core.InteractionEvent{SelectedIndex: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &recordingReporter{}
			o, m := newOptimizer(t, submitting, rep)
			before := m.Weights()

			res, err := o.Step(context.Background(), tt.ev)
			require.NoError(t, err)
			assert.Equal(t, 0.0, res.Loss)
			assert.True(t, res.Gradient.IsZero())
			assert.Equal(t, core.NoSelection, res.Selected)
			assert.Equal(t, before, m.Weights())

			require.Len(t, rep.payloads, 1)
			assert.Equal(t, -1, rep.payloads[0].RankSelected)
			assert.Equal(t, -1, rep.payloads[0].SelectedURLWasSameAsSearchString)
			assert.Equal(t, StyleNone, rep.payloads[0].SelectedStyle)
		})
	}
}

func TestStep_TelemetryFailureDoesNotBlock(t *testing.T) {
	rep := &recordingReporter{err: telemetry.ErrInvalidPayload}
	o, _ := newOptimizer(t, submitting, rep)

	res, err := o.Step(context.Background(), twoCandidates(1))
	require.NoError(t, err)
	assert.ErrorIs(t, res.TelemetryErr, telemetry.ErrInvalidPayload)
	assert.False(t, res.Sent)
	assert.True(t, res.Applied)
	assert.Equal(t, StateIdle, o.State())

	rep.err = nil
	res, err = o.Step(context.Background(), twoCandidates(1))
	require.NoError(t, err)
	assert.NoError(t, res.TelemetryErr)
	assert.True(t, res.Sent)
	assert.Equal(t, 1, res.ModelVersion)
}

func TestStep_InvalidPayloadFromSubmitterIsDropped(t *testing.T) {
	tr := telemetry.NewMemoryTransport()
	sub, err := telemetry.NewSubmitter(tr)
	require.NoError(t, err)
	// AddonVersion 为空 → 载荷不合法
	o, m := newOptimizer(t, Config{Variation: "model1", SubmitFrecencyUpdate: true, LearningRate: 0.05}, sub)

	res, err := o.Step(context.Background(), twoCandidates(1))
	require.NoError(t, err)
	assert.ErrorIs(t, res.TelemetryErr, telemetry.ErrInvalidPayload)
	assert.Empty(t, tr.Envelopes())
	assert.True(t, m.Weights().IsFinite())
}

type nanExtractor struct{}

func (nanExtractor) Name() string { return "nan" }

func (nanExtractor) Extract(ev *core.InteractionEvent) []core.Vector {
	out := make([]core.Vector, len(ev.Candidates))
	for i := range out {
		out[i][0] = float64(len(out) - i)
	}
	// 分量本身有限，但差值溢出为 +Inf
	out[0][1] = math.MaxFloat64
	out[len(out)-1][1] = -math.MaxFloat64
	return out
}

func TestStep_NonFiniteGradientSkipsUpdate(t *testing.T) {
	o, m := newOptimizer(t, submitting, nil, WithExtractor(nanExtractor{}))
	m.SetWeights(core.Vector{1})
	before := m.Weights()

	res, err := o.Step(context.Background(), twoCandidates(1))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, before, m.Weights())
	assert.Equal(t, 0, o.Version())
}

type shortExtractor struct{}

func (shortExtractor) Name() string                                 { return "short" }
func (shortExtractor) Extract(*core.InteractionEvent) []core.Vector { return nil }

func TestStep_ExtractorMismatchFails(t *testing.T) {
	o, m := newOptimizer(t, submitting, nil, WithExtractor(shortExtractor{}))
	before := m.Weights()

	_, err := o.Step(context.Background(), twoCandidates(1))
	require.Error(t, err)
	assert.Equal(t, before, m.Weights())
	assert.Equal(t, StateIdle, o.State())

	// 失败后仍可继续处理事件
	_, err = o.Step(context.Background(), core.InteractionEvent{})
	assert.NoError(t, err)
}

// blockingReporter 在 Submit 中阻塞，用于观察状态机与重入保护。
type blockingReporter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingReporter) Submit(context.Context, *telemetry.Payload, bool) (bool, error) {
	close(b.entered)
	<-b.release
	return true, nil
}

func TestStep_RejectsConcurrentStep(t *testing.T) {
	rep := &blockingReporter{entered: make(chan struct{}), release: make(chan struct{})}
	o, _ := newOptimizer(t, submitting, rep)
	assert.Equal(t, StateIdle, o.State())

	done := make(chan error, 1)
	go func() {
		_, err := o.Step(context.Background(), twoCandidates(1))
		done <- err
	}()

	select {
	case <-rep.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("reporter was not called")
	}
	assert.Equal(t, StateUpdating, o.State())

	_, err := o.Step(context.Background(), twoCandidates(1))
	assert.ErrorIs(t, err, ErrStepInProgress)

	close(rep.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 1, o.Version())
}

type kindHook struct {
	kinds []pipeline.Kind
}

func (h *kindHook) BeforeStage(_ context.Context, kind pipeline.Kind, _ string) {
	h.kinds = append(h.kinds, kind)
}

func (h *kindHook) AfterStage(context.Context, pipeline.Kind, string, time.Duration, error) {}

func TestStep_StageOrderAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	require.NoError(t, err)
	hook := &kindHook{}
	o, _ := newOptimizer(t, submitting, nil, WithMetrics(c), WithHooks(hook))

	_, err = o.Step(context.Background(), twoCandidates(1))
	require.NoError(t, err)
	_, err = o.Step(context.Background(), twoCandidates(core.NoSelection))
	require.NoError(t, err)

	assert.Equal(t, []pipeline.Kind{
		pipeline.KindObserve, pipeline.KindExtract, pipeline.KindScore,
		pipeline.KindLoss, pipeline.KindUpdate, pipeline.KindReport,
	}, hook.kinds[:6])
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Steps.WithLabelValues("model1", metrics.StepApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Steps.WithLabelValues("model1", metrics.StepSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Updates.WithLabelValues("model1")))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(submitting, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Variation: "model1", SubmitFrecencyUpdate: true}, model.NewLinear(core.Vector{}), nil)
	assert.Error(t, err)

	// 不提交更新的分组不需要学习率
	_, err = New(Config{Variation: "control"}, model.NewLinear(core.Vector{}), nil)
	assert.NoError(t, err)
}

func TestRestore(t *testing.T) {
	o, m := newOptimizer(t, submitting, nil)
	var w core.Vector
	w[feature.SlotBias] = 3
	o.Restore(12, w)
	assert.Equal(t, 12, o.Version())
	assert.Equal(t, w, m.Weights())
	assert.Equal(t, w, o.Weights())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "computing", StateComputing.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, errors.Is(ErrStepInProgress, ErrStepInProgress))
}
