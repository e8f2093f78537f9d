// Package cli is the local terminal chat: a bubbletea program talking to the
// in-process gateway over the same queue and agent loop as every other
// channel.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/salmalm/salmalm/internal/application"
	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/pkg/safego"
)

const chatSession = "cli"

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	frameStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
)

type eventMsg entity.AgentEvent

type turnDoneMsg struct {
	err error
}

type chatModel struct {
	app      *application.App
	program  *tea.Program
	viewport viewport.Model
	input    textarea.Model
	renderer *glamour.TermRenderer

	transcript []string
	streaming  bool
	partial    string
	width      int
	ready      bool
}

// Run starts the chat TUI and blocks until the user quits.
func Run(app *application.App) error {
	m := &chatModel{app: app}

	input := textarea.New()
	input.Placeholder = "Message SalmAlm (enter to send, ctrl+c to quit, esc to abort a turn)"
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()
	m.input = input

	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	_, err := p.Run()
	return err
}

func (m *chatModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		inputHeight := m.input.Height() + 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.input.SetWidth(msg.Width - 4)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(), glamour.WithWordWrap(msg.Width-4))
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			if m.streaming {
				m.app.AbortTurn(chatSession)
			}
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text != "" && !m.streaming {
				m.input.Reset()
				return m, m.send(text)
			}
		}

	case eventMsg:
		m.applyEvent(entity.AgentEvent(msg))

	case turnDoneMsg:
		m.streaming = false
		m.partial = ""
		if msg.err != nil {
			m.transcript = append(m.transcript, statusStyle.Render("error: "+msg.err.Error()))
		}
		m.refresh()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// send kicks the turn off in a goroutine; events arrive via program.Send.
func (m *chatModel) send(text string) tea.Cmd {
	m.transcript = append(m.transcript, userStyle.Render("you")+"  "+text)
	m.streaming = true
	m.partial = ""
	m.refresh()

	app, program := m.app, m.program
	safego.Go(app.Logger, "cli-turn", func() {
		_, err := app.ChatStream(context.Background(), chatSession, text, func(ev entity.AgentEvent) {
			program.Send(eventMsg(ev))
		})
		program.Send(turnDoneMsg{err: err})
	})
	return nil
}

func (m *chatModel) applyEvent(ev entity.AgentEvent) {
	switch ev.Type {
	case entity.EventTextDelta:
		m.partial += ev.Content
	case entity.EventToolCall:
		if ev.Tool != nil {
			m.transcript = append(m.transcript, toolStyle.Render("⚙ "+ev.Tool.Name))
		}
	case entity.EventStatus:
		m.transcript = append(m.transcript, statusStyle.Render(ev.Content))
	case entity.EventDone:
		label := agentStyle.Render("salmalm")
		if ev.Model != "" {
			label += toolStyle.Render(" (" + ev.Model + ")")
		}
		m.transcript = append(m.transcript, label+"\n"+m.markdown(ev.Content))
		m.partial = ""
	case entity.EventError:
		m.transcript = append(m.transcript, statusStyle.Render("error: "+ev.Error))
	}
	m.refresh()
}

func (m *chatModel) markdown(text string) string {
	if m.renderer == nil {
		return text
	}
	rendered, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	body := strings.Join(m.transcript, "\n\n")
	if m.streaming {
		spin := statusStyle.Render("…")
		if m.partial != "" {
			spin = m.partial + "▌"
		}
		body += "\n\n" + agentStyle.Render("salmalm") + "\n" + spin
	}
	m.viewport.SetContent(body)
	m.viewport.GotoBottom()
}

func (m *chatModel) View() string {
	if !m.ready {
		return "loading…"
	}
	return fmt.Sprintf("%s\n%s", m.viewport.View(), frameStyle.Width(m.width-2).Render(m.input.View()))
}
