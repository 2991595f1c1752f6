package ui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/javabridge/javabridge/internal/bridge"
	"github.com/javabridge/javabridge/internal/jnienv"
	"github.com/javabridge/javabridge/internal/jnitype"
	"github.com/javabridge/javabridge/internal/script"
	"github.com/javabridge/javabridge/internal/trace"
	"github.com/javabridge/javabridge/internal/vm"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	emu, err := vm.New()
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	t.Cleanup(func() { emu.Close() })

	env := vm.NewFakeEnv(emu)
	api := vm.NewFakeApi(emu, jnienv.FlavorArt)
	cls := env.DefineClass("com.example.Util")
	cls.Method("answer", true, false, "int", nil, func(_ context.Context, _ uint64, _ []jnienv.Value) (jnienv.Value, error) {
		return jnienv.Value{Prim: jnienv.TypeInt, I64: 42}, nil
	})

	sink := trace.NewSink(64)
	br := bridge.New(env, api, jnitype.Default(), bridge.WithTraceSink(sink))
	host := script.New(context.Background(), br)
	return NewModel(host, sink)
}

func typeLine(m Model, line string) Model {
	for _, r := range line {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = updated.(Model)
	}
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model)
}

func TestReplEvalAppendsHistory(t *testing.T) {
	m := newTestModel(t)
	m = typeLine(m, `Bridge.use("com.example.Util").answer()`)

	if len(m.history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(m.history))
	}
	if !strings.Contains(m.history[0], "42") {
		t.Errorf("history entry = %q, want it to contain the result 42", m.history[0])
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared after submit: %q", m.input.Value())
	}
}

func TestReplEvalErrorRenders(t *testing.T) {
	m := newTestModel(t)
	m = typeLine(m, `Bridge.use("does.not.Exist")`)

	if len(m.history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(m.history))
	}
}

func TestReplQuitCommand(t *testing.T) {
	m := newTestModel(t)
	m = typeLine(m, "quit")
	if !m.quit {
		t.Error("expected quit to be true after 'quit' command")
	}
}

func TestReplCtrlCQuits(t *testing.T) {
	m := newTestModel(t)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = updated.(Model)
	if !m.quit {
		t.Error("expected quit to be true after Ctrl-C")
	}
	if cmd == nil {
		t.Error("expected a tea.Quit command")
	}
}
