// Package contract validates and parses the worker agent's terminal
// command: a proof-gated mini-grammar the worker's free-text output must
// end with so the autopilot can tell what happened without re-reading the
// whole transcript.
package contract

import (
	"regexp"
	"strings"
)

// Verb is one of the three terminal command verbs.
type Verb string

const (
	VerbContinue  Verb = "continue"
	VerbBlocked   Verb = "blocked"
	VerbCompleted Verb = "completed"
)

// Command is the parsed terminal command.
type Command struct {
	Verb Verb
	Text string // the --text or --result value
}

// Result is the full validator output.
type Result struct {
	OK         bool
	Command    *Command
	Violations []string
	Evidence   Evidence
}

// Evidence describes what the validator found in the EVIDENCE section.
type Evidence struct {
	Present              bool
	HasConcreteExecution bool
	Excerpt              string // up to 280 characters
}

var evidenceHeader = regexp.MustCompile(`(?i)^evidence:?$`)

// concreteExecutionSignals are substring-matched, case-insensitively,
// against the evidence block for the "continue" verb.
var concreteExecutionSignals = []string{
	"executed", "ran", "tool call", "command:", "key result",
	"changed files:", "updated ", "created ", "patched ", "edited ", "test",
}

// executionNegations disqualify concrete-execution evidence even when one
// of the signals above also matches.
var executionNegations = []*regexp.Regexp{
	regexp.MustCompile(`(?i)changed files:\s*none`),
	regexp.MustCompile(`(?i)no execution`),
	regexp.MustCompile(`(?i)did not execute`),
	regexp.MustCompile(`(?i)no concrete step`),
	regexp.MustCompile(`(?i)no changes?\b`),
}

const maxExcerpt = 280

// Validate parses and validates the worker's free-text output against the
// terminal-command grammar and the evidence/proof-gate rules.
func Validate(output string) Result {
	lines := strings.Split(output, "\n")

	nonEmptyIdx := make([]int, 0, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmptyIdx = append(nonEmptyIdx, i)
		}
	}

	if len(nonEmptyIdx) == 0 {
		return Result{Violations: []string{"output is empty"}}
	}

	candidateIdxs := make([]int, 0, 1)
	for _, i := range nonEmptyIdx {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[i])), "kanban-workflow ") {
			candidateIdxs = append(candidateIdxs, i)
		}
	}

	var violations []string

	if len(candidateIdxs) == 0 {
		violations = append(violations, "no kanban-workflow terminal command found")
		return Result{Violations: violations, Evidence: scanEvidence(lines, -1, VerbContinue)}
	}
	if len(candidateIdxs) > 1 {
		violations = append(violations, "more than one kanban-workflow candidate line found")
	}

	lastCandidate := candidateIdxs[len(candidateIdxs)-1]
	lastNonEmpty := nonEmptyIdx[len(nonEmptyIdx)-1]
	if lastCandidate != lastNonEmpty {
		violations = append(violations, "terminal command is not the last non-empty line")
	}

	cmd, cmdViolations := parseCommand(strings.TrimSpace(lines[lastCandidate]))
	violations = append(violations, cmdViolations...)

	verb := VerbContinue
	if cmd != nil {
		verb = cmd.Verb
	}
	evidence := scanEvidence(lines, lastCandidate, verb)

	if !evidence.Present {
		violations = append(violations, "missing EVIDENCE section before the terminal command")
	}
	if verb == VerbContinue && evidence.Present && !evidence.HasConcreteExecution {
		violations = append(violations, "continue requires evidence of concrete execution")
	}

	ok := len(violations) == 0 && cmd != nil

	result := Result{OK: ok, Violations: violations, Evidence: evidence}
	if ok {
		result.Command = cmd
	}
	return result
}

func parseCommand(candidate string) (*Command, []string) {
	tokens := tokenize(candidate)

	if len(tokens) < 4 {
		return nil, []string{"terminal command has fewer than 4 tokens"}
	}
	if strings.ToLower(tokens[0]) != "kanban-workflow" {
		return nil, []string{"terminal command does not start with kanban-workflow"}
	}

	verbToken := strings.ToLower(tokens[1])
	var verb Verb
	var wantFlag string
	switch verbToken {
	case "continue":
		verb, wantFlag = VerbContinue, "--text"
	case "blocked":
		verb, wantFlag = VerbBlocked, "--text"
	case "completed":
		verb, wantFlag = VerbCompleted, "--result"
	default:
		return nil, []string{"unknown verb " + verbToken}
	}

	value, ok := flagValue(tokens[2:], wantFlag)
	if !ok {
		return nil, []string{"missing required flag " + wantFlag}
	}
	if strings.TrimSpace(value) == "" {
		return nil, []string{wantFlag + " value must be non-empty"}
	}

	return &Command{Verb: verb, Text: value}, nil
}

func flagValue(tokens []string, flag string) (string, bool) {
	for i, t := range tokens {
		if t == flag && i+1 < len(tokens) {
			return tokens[i+1], true
		}
	}
	return "", false
}

// scanEvidence looks for an EVIDENCE: header before stopIdx (the terminal
// command line index, or -1 to scan the whole output when no terminal
// command was found) and collects the non-empty lines that follow it up to
// stopIdx.
func scanEvidence(lines []string, stopIdx int, verb Verb) Evidence {
	end := len(lines)
	if stopIdx >= 0 {
		end = stopIdx
	}

	headerIdx := -1
	for i := 0; i < end; i++ {
		if evidenceHeader.MatchString(strings.TrimSpace(lines[i])) {
			headerIdx = i
		}
	}
	if headerIdx == -1 {
		return Evidence{}
	}

	var body []string
	for i := headerIdx + 1; i < end; i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		body = append(body, lines[i])
	}
	if len(body) == 0 {
		return Evidence{Present: false}
	}

	joined := strings.Join(body, "\n")
	excerpt := joined
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}

	ev := Evidence{Present: true, Excerpt: excerpt}
	if verb == VerbContinue {
		ev.HasConcreteExecution = hasConcreteExecution(joined)
	}
	return ev
}

func hasConcreteExecution(evidence string) bool {
	lower := strings.ToLower(evidence)

	for _, neg := range executionNegations {
		if neg.MatchString(lower) {
			return false
		}
	}

	for _, sig := range concreteExecutionSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// ExtractTerminalCommand parses s and returns the terminal command if it
// validates, or nil otherwise. ok(s) => ExtractTerminalCommand(s) != nil
// is the contract-soundness property tests rely on.
func ExtractTerminalCommand(s string) *Command {
	r := Validate(s)
	if !r.OK {
		return nil
	}
	return r.Command
}
