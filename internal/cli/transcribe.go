package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/scribe/internal/audio"
)

func NewTranscribeCmd(opts *Options) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file through the recording pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}

			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.pool.Close()

			buf, err := loadWAV(args[0], p.format)
			if err != nil {
				return err
			}

			name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			t, path, err := p.recorder.TranscribeBuffer(cmd.Context(), name, buf)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !quiet {
				for _, line := range t.Lines {
					fmt.Fprintln(out, line.String())
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Transcript written to %s (%d chunks, %d gaps)\n", path, t.Chunks, len(t.Gaps))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the transcript path")
	return cmd
}

// loadWAV decodes path and normalizes it to target
func loadWAV(path string, target audio.Format) (*audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, pcm, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	pcm, err = audio.Normalize(pcm, audio.EncodingPCM16, format, target)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", path, err)
	}
	return audio.NewBufferFrom(target, "", pcm)
}
