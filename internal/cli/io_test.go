package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestIOWarnLLMFlushesAtStartAndFinish(t *testing.T) {
	var out, errOut bytes.Buffer
	io := NewIO(&out, &errOut)

	io.WarnLLM("stale cache", "run setup again")
	io.Println("hello")

	if !strings.Contains(errOut.String(), "stale cache") {
		t.Errorf("expected start-of-output warning flush, got %q", errOut.String())
	}

	errOut.Reset()
	code := io.Finish()
	if code != 1 {
		t.Errorf("Finish() = %d, want 1 when a warning was recorded", code)
	}
	if !strings.Contains(errOut.String(), "stale cache") {
		t.Errorf("expected warning repeated at Finish(), got %q", errOut.String())
	}
}

func TestIOFinishNoWarnings(t *testing.T) {
	var out, errOut bytes.Buffer
	io := NewIO(&out, &errOut)
	io.Println("ok")

	if code := io.Finish(); code != 0 {
		t.Errorf("Finish() = %d, want 0", code)
	}
}

func TestIOPrintJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	io := NewIO(&out, &errOut)

	if err := io.PrintJSON(map[string]string{"id": "t-1"}); err != nil {
		t.Fatalf("PrintJSON: %v", err)
	}
	if !strings.Contains(out.String(), `"id": "t-1"`) {
		t.Errorf("stdout = %q, want indented JSON", out.String())
	}
}
