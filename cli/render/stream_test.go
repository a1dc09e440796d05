package render

import (
	"strings"
	"testing"

	"github.com/justapithecus/sluice/types"
)

func printAll(t *testing.T, updates []types.Update) string {
	t.Helper()
	var buf strings.Builder
	p := NewStreamPrinter(&buf)
	for _, u := range updates {
		if err := p.Print(u); err != nil {
			t.Fatalf("Print() error = %v", err)
		}
	}
	return buf.String()
}

func TestStreamPrinterSuffixes(t *testing.T) {
	got := printAll(t, []types.Update{
		{Text: "Hello"},
		{Text: "Hello world"},
		{Text: "Hello world!", Final: true},
	})
	want := "Hello world!\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStreamPrinterDuplicateSnapshot(t *testing.T) {
	got := printAll(t, []types.Update{
		{Text: "Hello"},
		{Text: "Hello"},
		{Text: "Hello", Final: true},
	})
	if got != "Hello\n" {
		t.Errorf("output = %q, want %q", got, "Hello\n")
	}
}

func TestStreamPrinterMessageBoundary(t *testing.T) {
	got := printAll(t, []types.Update{
		{Text: "First answer"},
		{Text: "Second"},
		{Text: "Second answer", Final: true},
	})
	want := "First answer\n\nSecond answer\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStreamPrinterEmptyFinal(t *testing.T) {
	got := printAll(t, []types.Update{
		{Text: "", Final: true},
	})
	if got != "" {
		t.Errorf("output = %q, want empty", got)
	}
}

func TestStreamPrinterIgnoresAfterFinal(t *testing.T) {
	got := printAll(t, []types.Update{
		{Text: "done", Final: true},
		{Text: "done and more"},
	})
	if got != "done\n" {
		t.Errorf("output = %q, want %q", got, "done\n")
	}
}

func TestStreamPrinterText(t *testing.T) {
	p := NewStreamPrinter(&strings.Builder{})
	if err := p.Print(types.Update{Text: "partial"}); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if p.Text() != "partial" {
		t.Errorf("Text() = %q, want %q", p.Text(), "partial")
	}
}
