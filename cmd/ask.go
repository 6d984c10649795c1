package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kidsclubplans/kcp/internal/chat"
	"github.com/kidsclubplans/kcp/internal/signal"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/ui"
)

var (
	askText     bool
	askProvider string
	askModel    string
	askUser     string
	askSession  string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the planning assistant a question",
	Long: `Ask the planning assistant a question and print the answer.

The answer goes through the same chat pipeline as the HTTP API: related
activities are looked up first and the assistant may call its planning
tools (search, weather, schedules, blending, gap analysis, saving).

Examples:
  kcp ask "rainy day games for 6 year olds"
  kcp ask "plan a 3 hour science afternoon for 8-10 year olds on 2026-06-01"
  kcp ask --text "craft ideas with paper plates" > ideas.md
  echo "we have yarn, glue and cardboard" | kcp ask "what can we make?"`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askText, "text", "t", false, "Output plain text instead of rendered markdown")
	askCmd.Flags().StringVar(&askProvider, "provider", "", "Override the chat provider (openai, anthropic)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Override the chat model")
	askCmd.Flags().StringVar(&askUser, "user", "cli", "User id for personalization and history")
	askCmd.Flags().StringVar(&askSession, "session", "", "Session id to record the interaction under")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	if !ui.IsTerminal(os.Stdin) {
		piped, err := io.ReadAll(io.LimitReader(os.Stdin, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if s := strings.TrimSpace(string(piped)); s != "" {
			question = strings.TrimSpace(question + "\n\n" + s)
		}
	}
	if question == "" {
		return fmt.Errorf("question required")
	}

	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(askProvider, askModel)

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	render := !askText && ui.IsTerminal(os.Stdout)
	p := newAskPrinter(cmd.OutOrStdout(), ui.NewStyles(os.Stderr), cmd.ErrOrStderr(), !render)

	out := a.chat.Run(ctx, chat.Request{
		Messages:  []chat.Message{{Role: "user", Content: question}},
		UserID:    askUser,
		SessionID: askSession,
	}, p.Emit)

	if render {
		rendered, err := ui.RenderMarkdown(p.Answer(), ui.TerminalWidth(os.Stdout))
		if err != nil {
			rendered = p.Answer()
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered)
	} else if p.Answer() != "" && !strings.HasSuffix(p.Answer(), "\n") {
		fmt.Fprintln(cmd.OutOrStdout())
	}

	if p.failed != "" {
		return fmt.Errorf("%s", p.failed)
	}
	if out.Err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// askPrinter turns chat events into terminal output. Content goes to out
// (immediately when streaming, otherwise buffered for rendering); notices
// go to errOut.
type askPrinter struct {
	out    io.Writer
	errOut io.Writer
	styles *ui.Styles
	stream bool

	answer strings.Builder
	// failed holds the last non-tool error message.
	failed string
}

func newAskPrinter(out io.Writer, styles *ui.Styles, errOut io.Writer, stream bool) *askPrinter {
	return &askPrinter{out: out, errOut: errOut, styles: styles, stream: stream}
}

// Answer returns the content received so far.
func (p *askPrinter) Answer() string {
	return p.answer.String()
}

// Emit implements chat.Emitter.
func (p *askPrinter) Emit(ev chat.Event) error {
	switch data := ev.Data.(type) {
	case chat.ContentData:
		p.answer.WriteString(data.Content)
		if p.stream {
			_, err := io.WriteString(p.out, data.Content)
			return err
		}
	case store.Activity:
		fmt.Fprintln(p.errOut, p.styles.Muted.Render("related: ")+p.styles.Activity.Render(data.Title))
	case chat.ToolCallData:
		fmt.Fprintln(p.errOut, p.styles.ToolCall.Render(fmt.Sprintf("→ %s %s", data.Name, formatToolArgs(data.Arguments))))
	case chat.ErrorData:
		fmt.Fprintln(p.errOut, p.styles.Error.Render(data.Message))
		if data.ErrorType != chat.ErrorTypeTool {
			p.failed = data.Message
		}
	}
	return nil
}

// formatToolArgs renders arguments as a short key=value list.
func formatToolArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return ui.Truncate(strings.Join(parts, " "), 100)
}
