package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rushteam/frecency/config"
	"github.com/rushteam/frecency/metrics"
	"github.com/rushteam/frecency/observer"
	"github.com/rushteam/frecency/prefs"
	"github.com/rushteam/frecency/study"
	"github.com/rushteam/frecency/telemetry"
)

const replayLongDesc string = `Replay onHistorySearch messages (one JSON object per line) through a study branch.

Each line is decoded as {"urls":[{"url":...,"frecency":...}],"selectedIndex":N,"numTypedChars":N,"searchString":"..."}.
The model is loaded from and saved to the configured store; pings go to the configured transport.`

type replayCommander struct {
	configPath string
	eventsPath string
	variation  string
	end        bool
}

// replaySummary 回放统计
type replaySummary struct {
	Events    int
	Failed    int
	Applied   int
	Sent      int
	Dropped   int
	TotalLoss float64
	Version   int
}

func newReplayCmd() *cobra.Command {
	cmder := &replayCommander{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded sessions through the optimizer",
		Long:  replayLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := cmder.run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"events=%d failed=%d applied=%d sent=%d dropped=%d mean_loss=%.6f model_version=%d\n",
				sum.Events, sum.Failed, sum.Applied, sum.Sent, sum.Dropped, sum.meanLoss(), sum.Version)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Study config file (YAML or JSON)")
	cmd.Flags().StringVarP(&cmder.eventsPath, "events", "e", "-", "JSONL file of onHistorySearch messages, - for stdin")
	cmd.Flags().StringVarP(&cmder.variation, "variation", "v", "model1", "Study branch")
	cmd.Flags().BoolVar(&cmder.end, "end", false, "End the study after replay (clears the stored model)")

	return cmd
}

func (s replaySummary) meanLoss() float64 {
	if s.Events == 0 {
		return 0
	}
	return s.TotalLoss / float64(s.Events)
}

func (c *replayCommander) run(ctx context.Context) (*replaySummary, error) {
	logger := log.Logger

	cfg := study.Defaults()
	if c.configPath != "" {
		var err error
		if cfg, err = study.LoadConfig(c.configPath); err != nil {
			return nil, err
		}
	}

	st, err := config.BuildStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	tr, err := config.BuildTransport(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}
	if closer, ok := tr.(interface{ Close() }); ok {
		defer closer.Close()
	}

	collectors, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}
	subOpts := []telemetry.SubmitterOption{
		telemetry.WithClientID(cfg.Telemetry.ClientID),
		telemetry.WithMetrics(collectors),
		telemetry.WithLogger(logger),
	}
	if cfg.Telemetry.Filter != "" {
		subOpts = append(subOpts, telemetry.WithFilter(cfg.Telemetry.Filter))
	}
	sub, err := telemetry.NewSubmitter(tr, subOpts...)
	if err != nil {
		return nil, err
	}

	s := study.New(cfg, st, sub,
		study.WithPrefs(prefs.NewMemoryBridge()),
		study.WithMetrics(collectors),
		study.WithLogger(logger),
	)
	if err := s.Start(ctx, study.Info{Variation: c.variation}); err != nil {
		return nil, err
	}

	in, closeIn, err := openInput(c.eventsPath)
	if err != nil {
		_ = s.Stop(ctx)
		return nil, err
	}
	defer closeIn()

	sum, replayErr := replay(ctx, s, in)
	sum.Version = s.Optimizer().Version()

	finish := s.Stop
	if c.end {
		finish = s.End
	}
	if err := finish(ctx); err != nil {
		return sum, err
	}
	return sum, replayErr
}

// replay 逐行解码并投递消息；单行解析或处理失败只计数，不中断回放。
func replay(ctx context.Context, s *study.Study, r io.Reader) (*replaySummary, error) {
	sum := &replaySummary{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var msg observer.HistorySearch
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Skipping malformed message")
			sum.Failed++
			continue
		}

		sum.Events++
		res, err := s.HandleHistorySearch(ctx, &msg)
		if res != nil {
			sum.TotalLoss += res.Loss
			if res.Applied {
				sum.Applied++
			}
			if res.Sent {
				sum.Sent++
			} else {
				sum.Dropped++
			}
		}
		if err != nil {
			log.Error().Err(err).Int("line", line).Msg("Failed to process message")
			sum.Failed++
		}
	}
	return sum, scanner.Err()
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
