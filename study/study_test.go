package study

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/frecency/core"
	"github.com/rushteam/frecency/feature"
	"github.com/rushteam/frecency/modelsync"
	"github.com/rushteam/frecency/observer"
	"github.com/rushteam/frecency/prefs"
	"github.com/rushteam/frecency/store"
	"github.com/rushteam/frecency/telemetry"
)

func TestLookupBranch(t *testing.T) {
	tests := []struct {
		name        string
		modelNumber int
		submit      bool
	}{
		{"control", 0, false},
		{"model1", 1, true},
		{"model2", 2, true},
		{"model3-submitting", 3, true},
		{"model3-not-submitting", 3, false},
		{"model4-submitting", 4, true},
		{"model4-not-submitting", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := LookupBranch(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, b.Name)
			assert.Equal(t, tt.modelNumber, b.ModelNumber)
			assert.Equal(t, tt.submit, b.SubmitFrecencyUpdate)
			assert.Equal(t, tt.modelNumber > 0, b.HasModel())
		})
	}
	assert.Len(t, Branches, len(tests))

	_, err := LookupBranch("model5")
	assert.ErrorIs(t, err, ErrUnknownBranch)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "study.yaml", `
addon_version: "2.1.0"
learning_rate: 0.2
margin: 0.5
store:
  type: redis
  addr: localhost:6379
  db: 2
telemetry:
  transport: kafka
  client_id: c-1
  filter: "payload.loss > 0"
  kafka:
    brokers: ["localhost:9092"]
    topic_prefix: "telemetry."
branches:
  model2:
    learning_rate: 0.05
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", cfg.AddonVersion)
	assert.Equal(t, 0.5, cfg.Margin)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, 2, cfg.Store.DB)
	assert.Equal(t, modelsync.DefaultKeyPrefix, cfg.Store.KeyPrefix)
	assert.Equal(t, prefs.DefaultBranch, cfg.PrefBranch)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Telemetry.Kafka.Brokers)
	assert.Equal(t, "payload.loss > 0", cfg.Telemetry.Filter)
	assert.Equal(t, 0.05, cfg.LearningRateFor("model2"))
	assert.Equal(t, 0.2, cfg.LearningRateFor("model1"))
}

func TestLoadConfig_JSONDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "study.json", `{"margin":0.5}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddonVersion, cfg.AddonVersion)
	assert.Equal(t, DefaultLearningRate, cfg.LearningRate)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "log", cfg.Telemetry.Transport)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"bad.yaml":    "learning_rate: [",
		"neg.yaml":    "learning_rate: -1",
		"margin.yaml": "margin: -0.1",
		"branch.yaml": "branches:\n  model9:\n    learning_rate: 0.1",
		"store.yaml":  "store:\n  type: sqlite",
		"bad.json":    "{",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, name, content))
			assert.Error(t, err)
		})
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func secondSelected() *observer.HistorySearch {
	return &observer.HistorySearch{
		URLs: []core.Candidate{
			{URL: "https://a.example.com/", Frecency: 0.9},
			{URL: "https://b.example.com/", Frecency: 0.5},
		},
		SelectedIndex: 1,
		NumTypedChars: 1,
		SearchString:  "b",
	}
}

func newSubmitter(t *testing.T) (*telemetry.Submitter, *telemetry.MemoryTransport) {
	t.Helper()
	tr := telemetry.NewMemoryTransport()
	sub, err := telemetry.NewSubmitter(tr)
	require.NoError(t, err)
	return sub, tr
}

func TestStudy_Lifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	bridge := prefs.NewMemoryBridge()
	sub, tr := newSubmitter(t)
	cfg := Defaults()
	cfg.AddonVersion = "1.0.0"
	cfg.LearningRate = 0.05

	s := New(cfg, st, sub, WithPrefs(bridge))
	_, err := s.HandleHistorySearch(ctx, secondSelected())
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, s.Start(ctx, Info{Variation: "model1"}))
	assert.ErrorIs(t, s.Start(ctx, Info{Variation: "model1"}), ErrAlreadyStarted)
	assert.Equal(t, 1, s.Branch().ModelNumber)
	assert.Equal(t, core.Dim, bridge.Len(), "initial weights mirrored")

	res, err := s.HandleHistorySearch(ctx, secondSelected())
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Len(t, tr.ByTopic(telemetry.TopicFrecencyUpdate), 1)
	assert.Len(t, tr.ByTopic(telemetry.TopicStudyAddon), 1)

	weights := s.Optimizer().Weights()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 0, bridge.Len(), "prefs cleared on stop")

	// 重新启动后从存储恢复
	require.NoError(t, s.Start(ctx, Info{Variation: "model1"}))
	assert.Equal(t, 1, s.Optimizer().Version())
	assert.Equal(t, weights, s.Optimizer().Weights())

	require.NoError(t, s.End(ctx))
	_, err = st.Get(ctx, modelsync.DefaultKeyPrefix+"model1")
	assert.True(t, core.IsStoreNotFound(err), "record removed on end")
	assert.ErrorIs(t, s.Stop(ctx), ErrNotStarted)
}

func TestStudy_NonSubmittingBranch(t *testing.T) {
	ctx := context.Background()
	sub, tr := newSubmitter(t)
	cfg := Defaults()
	cfg.AddonVersion = "1.0.0"

	s := New(cfg, store.NewMemoryStore(), sub)
	require.NoError(t, s.Start(ctx, Info{Variation: "model3-not-submitting", AddonVersion: "1.2.0"}))
	defer s.Stop(ctx)

	res, err := s.HandleHistorySearch(ctx, secondSelected())
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Greater(t, res.Loss, 0.0)
	assert.Equal(t, feature.DefaultWeights(), s.Optimizer().Weights())
	assert.Empty(t, tr.ByTopic(telemetry.TopicFrecencyUpdate))
	require.Len(t, tr.ByTopic(telemetry.TopicStudyAddon), 1)
	assert.Equal(t, "1.2.0", res.Payload.StudyAddonVersion)
}

func TestStudy_DefaultConfigSubmitsPings(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []*Config{nil, Defaults()} {
		sub, tr := newSubmitter(t)
		s := New(cfg, store.NewMemoryStore(), sub)
		require.NoError(t, s.Start(ctx, Info{Variation: "model1"}))

		res, err := s.HandleHistorySearch(ctx, secondSelected())
		require.NoError(t, err)
		require.NotNil(t, res.Payload)
		assert.Equal(t, DefaultAddonVersion, res.Payload.StudyAddonVersion)
		assert.Len(t, tr.ByTopic(telemetry.TopicFrecencyUpdate), 1)
		assert.Len(t, tr.ByTopic(telemetry.TopicStudyAddon), 1)
		require.NoError(t, s.Stop(ctx))
	}
}

func TestStudy_StartErrors(t *testing.T) {
	ctx := context.Background()
	s := New(nil, store.NewMemoryStore(), nil)
	assert.ErrorIs(t, s.Start(ctx, Info{Variation: "nope"}), ErrUnknownBranch)
	assert.ErrorIs(t, s.Flush(ctx), ErrNotStarted)
	assert.ErrorIs(t, s.End(ctx), ErrNotStarted)

	st := store.NewMemoryStore()
	require.NoError(t, st.Set(ctx, modelsync.DefaultKeyPrefix+"model2", []byte("garbage")))
	s = New(nil, st, nil)
	assert.ErrorIs(t, s.Start(ctx, Info{Variation: "model2"}), modelsync.ErrCorruptRecord)
}
