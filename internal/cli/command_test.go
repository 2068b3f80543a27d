package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/clawerr"
)

func TestCommandRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	io := NewIO(&out, &errOut)

	cmd := &Command{
		Flags: flag.NewFlagSet("x", flag.ContinueOnError),
		Usage: "x",
		Short: "does x",
	}

	code := cmd.Run(context.Background(), io, []string{"--help"})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if out.Len() == 0 {
		t.Fatal("expected help text on stdout")
	}
}

func TestCommandRunExecError(t *testing.T) {
	var out, errOut bytes.Buffer
	io := NewIO(&out, &errOut)

	cmd := &Command{
		Flags: flag.NewFlagSet("x", flag.ContinueOnError),
		Usage: "x",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return clawerr.New(clawerr.KindWorkflow, "boom").WithHint("try something else")
		},
	}

	code := cmd.Run(context.Background(), io, nil)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !bytes.Contains(errOut.Bytes(), []byte("boom")) {
		t.Errorf("stderr = %q, want to contain boom", errOut.String())
	}
	if !bytes.Contains(errOut.Bytes(), []byte("try something else")) {
		t.Errorf("stderr = %q, want to contain the hint", errOut.String())
	}
}

func TestCommandRunParseError(t *testing.T) {
	var out, errOut bytes.Buffer
	io := NewIO(&out, &errOut)

	flags := flag.NewFlagSet("x", flag.ContinueOnError)
	flags.String("id", "", "id")

	cmd := &Command{Flags: flags, Usage: "x"}

	code := cmd.Run(context.Background(), io, []string{"--unknown-flag"})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestCommandName(t *testing.T) {
	cmd := &Command{Usage: "start --id <id>"}
	if got := cmd.Name(); got != "start" {
		t.Errorf("Name() = %q, want start", got)
	}
}

func TestPresentErrorWithoutHint(t *testing.T) {
	var errOut bytes.Buffer
	io := NewIO(&bytes.Buffer{}, &errOut)

	presentError(io, errors.New("plain failure"))

	if !bytes.Contains(errOut.Bytes(), []byte("plain failure")) {
		t.Errorf("stderr = %q, want to contain the error", errOut.String())
	}
	if bytes.Contains(errOut.Bytes(), []byte("what next")) {
		t.Errorf("stderr = %q, should not contain a hint line", errOut.String())
	}
}
