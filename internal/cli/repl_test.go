package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/medvault/internal/session"
)

type fakeExec struct {
	state session.State
	calls []string
}

func (f *fakeExec) record(name string) error {
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeExec) vaultState() session.State { return f.state }
func (f *fakeExec) Setup(context.Context) error {
	f.state = session.Unlocked
	return f.record("setup")
}
func (f *fakeExec) Unlock(context.Context) error {
	f.state = session.Unlocked
	return f.record("unlock")
}
func (f *fakeExec) Lock(context.Context) error {
	f.state = session.Locked
	return f.record("lock")
}
func (f *fakeExec) Status(context.Context) error    { return f.record("status") }
func (f *fakeExec) Add(context.Context) error       { return f.record("add") }
func (f *fakeExec) List(context.Context) error      { return f.record("list") }
func (f *fakeExec) Show(context.Context) error      { return f.record("show") }
func (f *fakeExec) Delete(context.Context) error    { return f.record("delete") }
func (f *fakeExec) ChangePin(context.Context) error { return f.record("changepin") }
func (f *fakeExec) Backup(context.Context) error    { return f.record("backup") }
func (f *fakeExec) Backups(context.Context) error   { return f.record("backups") }
func (f *fakeExec) Restore(context.Context) error   { return f.record("restore") }
func (f *fakeExec) Reset(context.Context) error     { return f.record("reset") }

// capturePrints swaps printlnFn for a recorder.
func capturePrints(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	printed := capturePrints(t)

	input := strings.Join([]string{
		"help",
		"setup",
		"help",
		"add",
		"l",
		"show",
		"delete",
		"changepin",
		"backup",
		"backups",
		"lock",
		"help",
		"unlock",
		"status",
		"reset",
		"restore",
		"foobar",
		"",
		"exit",
		"list",
	}, "\n")

	exec := &fakeExec{state: session.NotSetup}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewReader(strings.NewReader(input)))

	assert.Equal(t, []string{
		"setup", "add", "list", "show", "delete", "changepin", "backup", "backups",
		"lock", "unlock", "status", "reset", "restore",
	}, exec.calls)

	out := strings.Join(*printed, "\n")
	assert.Contains(t, out, helpFor(session.NotSetup))
	assert.Contains(t, out, helpFor(session.Unlocked))
	assert.Contains(t, out, helpFor(session.Locked))
	assert.Contains(t, out, "Unknown command: foobar")
	assert.Contains(t, out, "medvault status> ")
	assert.Equal(t, "Bye!", (*printed)[len(*printed)-1])
}

func TestRunREPL_StopsOnEOFAndCancel(t *testing.T) {
	capturePrints(t)

	exec := &fakeExec{state: session.Locked}
	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewReader(strings.NewReader("lock")))
	assert.Equal(t, []string{"lock"}, exec.calls, "a final line without newline still runs")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec = &fakeExec{}
	runREPL(ctx, exec, func() string { return "s" }, bufio.NewReader(strings.NewReader("status\n")))
	assert.Empty(t, exec.calls)
}

func TestHelpFor(t *testing.T) {
	assert.Contains(t, helpFor(session.AwaitingPinConfirm), "setup")
	assert.Contains(t, helpFor(session.Locked), "unlock")
	assert.Contains(t, helpFor(session.PinChangeActive), "changepin")
}
