package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/signal"
)

var transcribePorcelain bool

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe a voice note to text using Whisper",
	Long: `Transcribe a recorded voice note with the OpenAI speech-to-text API.

Supported formats: webm, mp3, mp4, m4a, wav, ogg.

Examples:
  kcp transcribe note.m4a
  kcp transcribe --porcelain note.webm | kcp ask`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().BoolVar(&transcribePorcelain, "porcelain", false, "Output only the transcript text")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		return llm.ErrTranscriptionNotConfigured
	}

	filePath := args[0]
	mimeType, err := detectAudioMimeType(filePath)
	if err != nil {
		return err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	if info.Size() > maxAudioBytes {
		return fmt.Errorf("audio file too large (max %d MB)", maxAudioBytes/(1024*1024))
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	if !transcribePorcelain {
		fmt.Fprintf(cmd.ErrOrStderr(), "Transcribing %s (%s)...\n", filepath.Base(filePath), mimeType)
	}

	t := llm.NewTranscriber(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.BaseURL)
	text, err := t.Transcribe(ctx, f, filepath.Base(filePath))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

// detectAudioMimeType maps a file extension to one of the accepted audio
// content types.
func detectAudioMimeType(filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".ogg":
		return "audio/ogg", nil
	case ".mp3":
		return "audio/mpeg", nil
	case ".wav":
		return "audio/wav", nil
	case ".m4a", ".mp4":
		return "audio/mp4", nil
	case ".webm":
		return "audio/webm", nil
	default:
		return "", fmt.Errorf("unsupported audio extension %q", ext)
	}
}
