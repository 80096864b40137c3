package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yok-tottii/EzLiveTutor/internal/i18n"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
)

// RecentLines is how many transcript entries the screen keeps
const RecentLines = 10

// Controller is the part of the session controller the terminal UI drives
type Controller interface {
	StartSession(ctx context.Context) error
	StopSession()
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

type snapshotMsg session.Snapshot

type startResultMsg struct {
	err error
}

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#25A065")).Padding(0, 1)
	modelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065"))
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5A8DEE"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type model struct {
	ctrl       Controller
	translator *i18n.Translator
	updates    <-chan session.Snapshot
	viewport   viewport.Model
	snap       session.Snapshot
	lastErr    string
	ready      bool
}

func newModel(ctrl Controller, translator *i18n.Translator, updates <-chan session.Snapshot) model {
	if translator == nil {
		translator = i18n.NewDefault(i18n.LanguageEnglish)
	}
	return model{
		ctrl:       ctrl,
		translator: translator,
		updates:    updates,
		snap:       ctrl.Snapshot(),
	}
}

func (m model) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

func waitForSnapshot(updates <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m model) startSession() tea.Cmd {
	return func() tea.Msg {
		return startResultMsg{err: m.ctrl.StartSession(context.Background())}
	}
}

func (m model) stopSession() tea.Cmd {
	return func() tea.Msg {
		m.ctrl.StopSession()
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "s":
			if !m.snap.State.Running() {
				m.lastErr = ""
				return m, m.startSession()
			}
			return m, nil
		case "x":
			return m, m.stopSession()
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}
		m.viewport.SetContent(m.transcriptView())

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		m.viewport.SetContent(m.transcriptView())
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForSnapshot(m.updates))

	case startResultMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}

func (m model) headerView() string {
	title := barStyle.Render("EzLiveTutor")
	status := " " + m.translator.Status(m.snap.Status)
	if m.snap.State == session.StateErrored {
		status = errorStyle.Render(status)
	}
	if m.lastErr != "" {
		status += dimStyle.Render(" (" + m.lastErr + ")")
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, title, status)
}

func (m model) footerView() string {
	action := m.translator.Translate("menu.start_session")
	if m.snap.State.Running() {
		action = m.translator.Translate("menu.stop_session")
	}
	info := barStyle.Render(fmt.Sprintf("s/x: %s  q: %s", action, m.translator.Translate("menu.quit")))
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) transcriptView() string {
	lines := m.snap.Recent(RecentLines)
	if len(lines) == 0 {
		return dimStyle.Render("No conversation yet.")
	}

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		label := userStyle.Render(line.Role + ":")
		if line.Role == session.ModelLabel {
			label = modelStyle.Render(line.Role + ":")
		}
		b.WriteString(label)
		b.WriteString(" ")
		b.WriteString(line.Text)
	}
	return b.String()
}

// Run shows the session status and the latest transcript until the user
// quits or ctx is done. The session is stopped on exit.
func Run(ctx context.Context, ctrl Controller, translator *i18n.Translator) error {
	updates, cancel := ctrl.Subscribe()
	defer cancel()
	defer ctrl.StopSession()

	p := tea.NewProgram(newModel(ctrl, translator, updates), tea.WithAltScreen())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}
