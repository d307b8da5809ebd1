package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"photosync/internal/tasks"
)

// updateMsg wraps an engine progress event for the Elm loop.
type updateMsg tasks.ProgressUpdate

// doneMsg signals that the engine closed its progress channel.
type doneMsg struct{}

// Model renders live sync progress from the engine's update channel.
type Model struct {
	updates  <-chan tasks.ProgressUpdate
	cancel   context.CancelFunc
	bar      progress.Model
	current  tasks.ProgressUpdate
	summary  string
	stopping bool
	done     bool
	width    int
}

// NewModel creates a progress view over an engine update channel. cancel is
// invoked when the operator requests a stop; the view keeps rendering until
// the engine closes the channel.
func NewModel(updates <-chan tasks.ProgressUpdate, cancel context.CancelFunc) Model {
	return Model{
		updates: updates,
		cancel:  cancel,
		bar:     progress.New(progress.WithDefaultGradient()),
	}
}

// Init starts listening for engine updates.
func (m Model) Init() tea.Cmd {
	return m.listen()
}

// listen blocks on the update channel and feeds events into the Elm loop.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(msg.Width-4, 60)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
			return m, nil
		}
		return m, nil

	case updateMsg:
		update := tasks.ProgressUpdate(msg)
		cmds := []tea.Cmd{m.listen()}

		switch update.Phase {
		case tasks.Process, tasks.Retry:
			m.current = update
			if update.Total > 0 {
				cmds = append(cmds, m.bar.SetPercent(float64(update.Step)/float64(update.Total)))
			}
		case tasks.Summary:
			m.summary = update.Message
		default:
			m.current = update
		}
		return m, tea.Batch(cmds...)

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	title := styles.title.Render("photosync")

	if m.done {
		if m.summary != "" {
			return fmt.Sprintf("%s\n%s\n", title, styles.ok.Render(m.summary))
		}
		return fmt.Sprintf("%s\n%s\n", title, styles.ok.Render("Done"))
	}

	status := m.current.Message
	if m.current.Phase == tasks.Process && m.current.Total > 0 {
		status = fmt.Sprintf("%d/%d • %s", m.current.Step, m.current.Total, m.current.Asset)
		if m.current.Speed > 0 {
			status = fmt.Sprintf("%s • %.1f assets/min", status, m.current.Speed)
		}
	}

	lines := fmt.Sprintf("%s\n%s\n%s\n", title, m.bar.View(), status)
	if m.stopping {
		lines += styles.warn.Render("Stopping after current asset...") + "\n"
	} else {
		lines += styles.help.Render("q/ctrl+c to stop") + "\n"
	}
	return lines
}
