// Package ui implements the interactive REPL: a bubbletea program that reads
// one line of JavaScript at a time, evaluates it against a script.Host, and
// renders the result or error alongside any trace events it produced.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/javabridge/javabridge/internal/script"
	"github.com/javabridge/javabridge/internal/trace"
	"github.com/javabridge/javabridge/internal/ui/colorize"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true)
	footerStyle = lipgloss.NewStyle().Faint(true)
)

// Model is the bubbletea model driving one REPL session over a script.Host.
type Model struct {
	host    *script.Host
	sink    *trace.Sink
	input   textinput.Model
	history []string
	width   int
	quit    bool
}

// NewModel creates a REPL model evaluating against host. If sink is
// non-nil, trace events pushed during an eval are rendered after the
// result (spec 4.H, 4.I "events stream back alongside results").
func NewModel(host *script.Host, sink *trace.Sink) Model {
	ti := textinput.New()
	ti.Placeholder = `Bridge.use("java.lang.String")`
	ti.Prompt = "jb> "
	ti.Focus()
	return Model{host: host, sink: sink, input: ti}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quit = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			if strings.TrimSpace(line) == "exit" || strings.TrimSpace(line) == "quit" {
				m.quit = true
				return m, tea.Quit
			}
			m.history = append(m.history, m.evalLine(line))
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) evalLine(line string) string {
	var b strings.Builder
	b.WriteString(promptStyle.Render(m.input.Prompt) + colorize.Script(line))

	var seen map[*trace.Event]bool
	if m.sink != nil {
		seen = make(map[*trace.Event]bool)
		for _, ev := range m.sink.All() {
			seen[ev] = true
		}
	}

	result, err := m.host.RunString(line)
	if err != nil {
		b.WriteString("\n" + colorize.Error(err.Error()))
	} else if result != nil {
		b.WriteString("\n" + formatResult(result))
	}

	if m.sink != nil {
		for _, ev := range m.sink.All() {
			if seen[ev] {
				continue
			}
			b.WriteString("\n" + colorize.Comment(fmt.Sprintf("#%s %s %s", ev.Tags.Primary(), ev.Name, ev.Detail)))
		}
	}
	return b.String()
}

func formatResult(v any) string {
	switch v := v.(type) {
	case string:
		return colorize.String(fmt.Sprintf("%q", v))
	case int64, float64, bool, nil:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(colorize.Header("javabridge") + " " + colorize.Detail("REPL — Ctrl-C to exit") + "\n\n")
	for _, entry := range m.history {
		b.WriteString(entry + "\n\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n" + footerStyle.Render("enter to eval, exit/quit to leave"))
	return b.String()
}

// Run starts the REPL program against stdio and blocks until the user
// exits.
func Run(host *script.Host, sink *trace.Sink) error {
	p := tea.NewProgram(NewModel(host, sink))
	_, err := p.Run()
	return err
}
