package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/kidsclubplans/kcp/internal/chat"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/ui"
)

func newTestPrinter(stream bool) (*askPrinter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return newAskPrinter(&out, ui.NewStyles(os.Stderr), &errOut, stream), &out, &errOut
}

func TestAskPrinterStreamsContent(t *testing.T) {
	p, out, _ := newTestPrinter(true)
	for _, chunk := range []string{"Try ", "a relay ", "race."} {
		if err := p.Emit(chat.ContentEvent(chunk)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if got := out.String(); got != "Try a relay race." {
		t.Fatalf("stdout = %q", got)
	}
	if p.Answer() != out.String() {
		t.Fatalf("Answer() = %q, want %q", p.Answer(), out.String())
	}
}

func TestAskPrinterBuffersWhenRendering(t *testing.T) {
	p, out, _ := newTestPrinter(false)
	_ = p.Emit(chat.ContentEvent("# Plan"))
	if out.Len() != 0 {
		t.Fatalf("expected nothing written while buffering, got %q", out.String())
	}
	if p.Answer() != "# Plan" {
		t.Fatalf("Answer() = %q", p.Answer())
	}
}

func TestAskPrinterNotices(t *testing.T) {
	p, out, errOut := newTestPrinter(true)
	_ = p.Emit(chat.ActivityEvent(store.Activity{Title: "Bean bag toss"}))
	_ = p.Emit(chat.ToolCallEvent("call_1", "check_weather", map[string]any{"location": "Lansing", "date": "2026-05-01"}))
	_ = p.Emit(chat.ErrorEvent("Tool check_weather failed: boom", chat.ErrorTypeTool))

	if out.Len() != 0 {
		t.Fatalf("notices leaked to stdout: %q", out.String())
	}
	notices := errOut.String()
	for _, want := range []string{"Bean bag toss", "check_weather date=2026-05-01 location=Lansing", "boom"} {
		if !strings.Contains(notices, want) {
			t.Errorf("stderr missing %q:\n%s", want, notices)
		}
	}
	if p.failed != "" {
		t.Fatalf("tool errors should not fail the command, got %q", p.failed)
	}

	_ = p.Emit(chat.ErrorEvent("openai failed after retries: timeout", "timeout"))
	if p.failed == "" {
		t.Fatal("provider error should fail the command")
	}
}

func TestFormatToolArgsTruncates(t *testing.T) {
	if got := formatToolArgs(nil); got != "" {
		t.Fatalf("formatToolArgs(nil) = %q", got)
	}
	long := map[string]any{"query": strings.Repeat("x", 300)}
	if got := formatToolArgs(long); len([]rune(got)) > 100 {
		t.Fatalf("not truncated: %d runes", len([]rune(got)))
	}
}
