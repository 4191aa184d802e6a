package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lexiqai/scribe/internal/config"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/version"
)

// Options are the flags shared by every command
type Options struct {
	EnvFile string
}

func NewRootCmd() *cobra.Command {
	opts := &Options{}

	rootCmd := &cobra.Command{
		Use:   "scribe",
		Short: "Record voice rooms and turn them into transcripts",
		Long: "Scribe records voice rooms, transcribes the audio with a hosted or local " +
			"speech-to-text engine and writes one transcript file per recording.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	observability.Version = version.Version

	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file",
		config.GetEnv("SCRIBE_ENV_FILE", ".env"), "dotenv file loaded before the environment")

	rootCmd.AddCommand(NewServeCmd(opts))
	rootCmd.AddCommand(NewTranscribeCmd(opts))
	rootCmd.AddCommand(NewSummarizeCmd(opts))
	rootCmd.AddCommand(NewTranscriptsCmd(opts))

	return rootCmd
}

// load reads configuration and initializes the logger on logs
func (o *Options) load(logs io.Writer) (*config.Config, error) {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	observability.InitLoggerTo(logs, cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}
