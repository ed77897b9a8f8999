// Package tui is an interactive terminal reader for a feed session. Scrolling
// the viewport drives the session's proximity triggers the same way a browser
// scroll would.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JakeFAU/tagfeed/internal/feed"
	"github.com/JakeFAU/tagfeed/internal/proximity"
	"github.com/JakeFAU/tagfeed/internal/session"
)

// Feed is the slice of a session the reader needs.
type Feed interface {
	Start(ctx context.Context) error
	Scroll(v proximity.Viewport)
	Resize(width int)
	Render() string
	Snapshot() session.Snapshot
	Subscribe() (<-chan struct{}, func())
}

type startedMsg struct {
	err error
}

type changedMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

const chromeHeight = 2

// Model is the bubbletea model for one feed.
type Model struct {
	ctx     context.Context
	feed    Feed
	title   string
	changes <-chan struct{}
	cancel  func()

	viewport viewport.Model
	ready    bool
	started  bool
	last     proximity.Viewport
	err      error
}

// New builds a reader for f. Call Close once the program exits.
func New(ctx context.Context, f Feed, title string) *Model {
	changes, cancel := f.Subscribe()
	return &Model{
		ctx:     ctx,
		feed:    f,
		title:   title,
		changes: changes,
		cancel:  cancel,
	}
}

// Close stops listening for document changes.
func (m *Model) Close() {
	m.cancel()
}

// Init starts the feed and waits for the first change.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.start(), m.waitForChange())
}

// Update handles window, key, mouse and session messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(1, msg.Height-chromeHeight)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.feed.Resize(msg.Width)
		m.refresh()
	case startedMsg:
		m.started = true
		if msg.err != nil && !isShownInDocument(msg.err) {
			m.err = msg.err
		}
		m.refresh()
	case changedMsg:
		m.refresh()
		cmds = append(cmds, m.waitForChange())
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.reportScroll()
	return m, tea.Batch(cmds...)
}

// View renders the title, the document window and a status footer.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return titleStyle.Render(m.title) + "\n" + m.viewport.View() + "\n" + m.footer()
}

func (m *Model) footer() string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error())
	}
	snap := m.feed.Snapshot()
	loaded := 0
	for _, e := range snap.Feed.Entries {
		if e.State.Terminal() {
			loaded++
		}
	}
	return footerStyle.Render(fmt.Sprintf("%d/%d settled · %d in flight · %3.f%% · q to quit",
		loaded, snap.Feed.Total, snap.Queue.InFlight, m.viewport.ScrollPercent()*100))
}

// refresh copies the document into the viewport, keeping the scroll offset.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	offset := m.viewport.YOffset
	m.viewport.SetContent(m.feed.Render())
	m.viewport.SetYOffset(offset)
}

// reportScroll forwards the visible window once the feed is started and the
// window moved or resized.
func (m *Model) reportScroll() {
	if !m.ready || !m.started {
		return
	}
	v := proximity.Viewport{Top: m.viewport.YOffset, Height: m.viewport.Height}
	if v == m.last {
		return
	}
	m.last = v
	m.feed.Scroll(v)
}

func (m *Model) start() tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: m.feed.Start(m.ctx)}
	}
}

func (m *Model) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func isShownInDocument(err error) bool {
	var cfgErr *feed.ConfigError
	var idxErr *feed.IndexError
	return errors.Is(err, feed.ErrNoItems) || errors.As(err, &cfgErr) || errors.As(err, &idxErr)
}

// Run drives f in an alternate-screen program until the user quits or ctx ends.
func Run(ctx context.Context, f Feed, title string, opts ...tea.ProgramOption) error {
	m := New(ctx, f, title)
	defer m.Close()
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx)}, opts...)
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run reader: %w", err)
	}
	return nil
}
