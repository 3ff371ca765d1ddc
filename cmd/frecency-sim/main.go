// Command frecency-sim 回放地址栏搜索会话，驱动个性化实验的在线学习循环。
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const rootLongDesc string = `frecency-sim runs the urlbar frecency personalization study offline.

Examples:
  frecency-sim replay --variation model1 --events sessions.jsonl
  frecency-sim replay --config study.yaml --variation model3-not-submitting --events sessions.jsonl
  frecency-sim validate ping.json`

type rootCommander struct {
	logLevel string
	dev      bool
}

func newRootCmd() *cobra.Command {
	cmder := &rootCommander{}

	cmd := &cobra.Command{
		Use:           "frecency-sim",
		Short:         "Replay urlbar sessions through the frecency optimizer",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return cmder.initLogger()
		},
	}

	cmd.PersistentFlags().StringVar(&cmder.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&cmder.dev, "dev", true, "Human readable console logs")

	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

// initLogger 初始化全局 zerolog logger
func (c *rootCommander) initLogger() error {
	level, err := zerolog.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if c.dev {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().
			Str("service", "frecency-sim").
			Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Str("service", "frecency-sim").
			Logger()
	}
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("frecency-sim failed")
		os.Exit(1)
	}
}
