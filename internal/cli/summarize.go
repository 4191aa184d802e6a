package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/scribe/internal/summary"
)

func NewSummarizeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <transcript>",
		Short: "Generate a markdown summary of a stored transcript",
		Long: "Summarize a transcript from the transcript directory. The name may be given " +
			"with or without the .log extension.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}
			if cfg.OpenAIAPIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required to generate summaries")
			}

			prompt, err := summary.LoadPrompt(cfg.SummaryPromptFile, cfg.SummaryModel)
			if err != nil {
				return err
			}

			s := summary.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, prompt, cfg.SummaryDir)
			path, err := s.SummarizeFile(cmd.Context(), cfg.TranscriptDir, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Summary written to %s\n", path)
			return nil
		},
	}
}
