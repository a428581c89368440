package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// UserPrompt is the port through which the checkpoint handler reaches a
// human: it never assumes a terminal is attached, so a caller embedding the
// orchestrator behind a different surface (a chat UI, a web approval queue)
// can supply its own implementation.
type UserPrompt interface {
	// PromptAuthWait tells the human an authentication edge case (kind, e.g.
	// "mfa_prompt") has interrupted the flow and blocks until they signal
	// that they've completed it, or that the task should be abandoned.
	PromptAuthWait(ctx context.Context, kind string) (resume bool, err error)

	// PromptApproval describes a proposed tool call and the page it would
	// act on, then blocks until the human approves or denies it.
	PromptApproval(ctx context.Context, toolName string, args map[string]any, pageSummary, screenshotPath string) (approved bool, err error)
}

// TerminalPrompt implements UserPrompt against stdin/stdout, the default for
// the orchestrator's CLI entry point.
type TerminalPrompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompt builds a TerminalPrompt reading from in and writing
// prompts to out.
func NewTerminalPrompt(in io.Reader, out io.Writer) *TerminalPrompt {
	return &TerminalPrompt{in: bufio.NewReader(in), out: out}
}

func (t *TerminalPrompt) PromptAuthWait(ctx context.Context, kind string) (bool, error) {
	fmt.Fprintf(t.out, "\nThe task has hit an authentication step (%s). Complete it in the browser, then press Enter to continue (or type \"abort\"): ", kind)
	return t.readYesOrAbort(ctx)
}

func (t *TerminalPrompt) PromptApproval(ctx context.Context, toolName string, args map[string]any, pageSummary, screenshotPath string) (bool, error) {
	fmt.Fprintf(t.out, "\nCheckpoint reached before calling %q with %v\n", toolName, args)
	if pageSummary != "" {
		fmt.Fprintf(t.out, "Current page: %s\n", pageSummary)
	}
	if screenshotPath != "" {
		fmt.Fprintf(t.out, "Screenshot: %s\n", screenshotPath)
	}
	fmt.Fprint(t.out, "Approve this action? [y/N]: ")
	return t.readYesNo(ctx)
}

func (t *TerminalPrompt) readYesOrAbort(ctx context.Context) (bool, error) {
	line, err := t.readLine(ctx)
	if err != nil {
		return false, err
	}
	return !strings.EqualFold(strings.TrimSpace(line), "abort"), nil
}

func (t *TerminalPrompt) readYesNo(ctx context.Context) (bool, error) {
	line, err := t.readLine(ctx)
	if err != nil {
		return false, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}

func (t *TerminalPrompt) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := t.in.ReadString('\n')
		done <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil && r.err != io.EOF {
			return "", r.err
		}
		return r.line, nil
	}
}

// ScriptedPrompt is a test double: it answers from a fixed, ordered queue of
// canned decisions and records every call it received for assertions.
type ScriptedPrompt struct {
	AuthAnswers     []bool
	ApprovalAnswers []bool
	authCalls       []string
	approvalCalls   []string
}

func (s *ScriptedPrompt) PromptAuthWait(ctx context.Context, kind string) (bool, error) {
	s.authCalls = append(s.authCalls, kind)
	if len(s.AuthAnswers) == 0 {
		return true, nil
	}
	answer := s.AuthAnswers[0]
	s.AuthAnswers = s.AuthAnswers[1:]
	return answer, nil
}

func (s *ScriptedPrompt) PromptApproval(ctx context.Context, toolName string, args map[string]any, pageSummary, screenshotPath string) (bool, error) {
	s.approvalCalls = append(s.approvalCalls, toolName)
	if len(s.ApprovalAnswers) == 0 {
		return true, nil
	}
	answer := s.ApprovalAnswers[0]
	s.ApprovalAnswers = s.ApprovalAnswers[1:]
	return answer, nil
}

// AuthCalls and ApprovalCalls expose what the handler asked about, in order.
func (s *ScriptedPrompt) AuthCalls() []string     { return s.authCalls }
func (s *ScriptedPrompt) ApprovalCalls() []string { return s.approvalCalls }
