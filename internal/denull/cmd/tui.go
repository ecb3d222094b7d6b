package cmd

import (
	"crypto/sha256"
	"fmt"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"denull/internal/denull/styles"
	"denull/internal/engine"
)

type viewMode int

const (
	viewSummary viewMode = iota
	viewBefore
	viewAfter
)

type model struct {
	viewport    viewport.Model
	beforeView  viewport.Model
	afterView   viewport.Model
	spinner     spinner.Model
	mode        viewMode
	req         *request
	res         *engine.Result
	resErr      error
	rewriting   bool
	beforeText  string
	afterText   string
	writeStatus string
	width       int
	height      int
}

// Message types
type rewriteDoneMsg struct {
	res *engine.Result
	err error
}

type listingsMsg struct {
	before string
	after  string
}

type outputWrittenMsg struct {
	status string
}

// Commands
func rewriteCmd(req *request) tea.Cmd {
	return func() tea.Msg {
		res, err := req.transform()
		return rewriteDoneMsg{res: res, err: err}
	}
}

func listingsCmd(req *request, res *engine.Result) tea.Cmd {
	return func() tea.Msg {
		msg := listingsMsg{}
		if before, err := listingText(req.code, req); err == nil {
			msg.before = before
		} else {
			msg.before = fmt.Sprintf("listing error: %v", err)
		}
		if res != nil {
			if after, err := listingText(res.Output, req); err == nil {
				msg.after = after
			} else {
				msg.after = fmt.Sprintf("listing error: %v", err)
			}
		}
		return msg
	}
}

func writeOutputCmd(req *request, res *engine.Result) tea.Cmd {
	return func() tea.Msg {
		if req.output == "" || res == nil {
			return outputWrittenMsg{}
		}
		if err := req.writeOutput(res.Output); err != nil {
			return outputWrittenMsg{status: fmt.Sprintf("write failed: %v", err)}
		}
		return outputWrittenMsg{status: fmt.Sprintf("wrote %s", req.output)}
	}
}

func NewModel(req *request) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	bvp := viewport.New()
	bvp.SetWidth(80)
	bvp.SetHeight(24)

	avp := viewport.New()
	avp.SetWidth(80)
	avp.SetHeight(24)

	// Create spinner
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := model{
		viewport:   vp,
		beforeView: bvp,
		afterView:  avp,
		spinner:    s,
		mode:       viewSummary,
		req:        req,
		rewriting:  true,
		width:      80,
		height:     24,
	}

	// Set initial content
	m.updateContent()

	return m
}

func (m model) Init() tea.Cmd {
	// Start the rewrite and the spinner
	return tea.Batch(
		rewriteCmd(m.req),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case rewriteDoneMsg:
		m.res = msg.res
		m.resErr = msg.err
		m.rewriting = false
		m.updateContent()
		return m, tea.Batch(
			listingsCmd(m.req, m.res),
			writeOutputCmd(m.req, m.res),
		)

	case listingsMsg:
		m.beforeText = msg.before
		m.afterText = msg.after
		m.beforeView.SetContent(strings.TrimSuffix(m.beforeText, "\n"))
		m.beforeView.GotoTop()
		m.afterView.SetContent(strings.TrimSuffix(m.afterText, "\n"))
		m.afterView.GotoTop()
		return m, nil

	case outputWrittenMsg:
		m.writeStatus = msg.status
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// Only continue spinner while the rewrite runs
		if m.rewriting {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.beforeView.SetWidth(msg.Width)
			m.beforeView.SetHeight(msg.Height - 2)
			m.afterView.SetWidth(msg.Width)
			m.afterView.SetHeight(msg.Height - 2)

			m.updateContent()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			m.mode = viewSummary
			return m, nil
		case "i":
			m.mode = viewBefore
			return m, nil
		case "o":
			if m.res != nil {
				m.mode = viewAfter
			}
			return m, nil
		case "tab":
			// Cycle forward through views
			switch m.mode {
			case viewSummary:
				m.mode = viewBefore
			case viewBefore:
				if m.res != nil {
					m.mode = viewAfter
				} else {
					m.mode = viewSummary
				}
			case viewAfter:
				m.mode = viewSummary
			}
			return m, nil
		case "shift+tab":
			// Cycle backward through views
			switch m.mode {
			case viewSummary:
				if m.res != nil {
					m.mode = viewAfter
				} else {
					m.mode = viewBefore
				}
			case viewBefore:
				m.mode = viewSummary
			case viewAfter:
				m.mode = viewBefore
			}
			return m, nil
		}
	}

	// Update the active view
	switch m.mode {
	case viewBefore:
		m.beforeView, cmd = m.beforeView.Update(msg)
	case viewAfter:
		m.afterView, cmd = m.afterView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewBefore:
		content = m.beforeView.View()
	case viewAfter:
		content = m.afterView.View()
	default:
		content = m.viewport.View()
	}

	// Add menu bar at the bottom
	var menu string
	switch m.mode {
	case viewBefore:
		menu = " S: summary • O: output • Tab: cycle • Q: quit "
	case viewAfter:
		menu = " S: summary • I: input • Tab: cycle • Q: quit "
	default: // viewSummary
		if m.res != nil {
			menu = " I: input • O: output • Tab: cycle • Q: quit "
		} else {
			menu = " I: input • Tab: cycle • Q: quit "
		}
	}

	// Style the menu bar
	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *model) updateContent() {
	// Get relative path from current directory
	relPath := m.req.path
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := pathpkg.Rel(cwd, m.req.path); err == nil {
			relPath = rel
		}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("; %s", relPath))
	lines = append(lines, fmt.Sprintf("; %s, bad bytes %s", m.req.arch, m.req.bad))
	lines = append(lines, fmt.Sprintf("; %x", sha256.Sum256(m.req.code)))

	markdown := fmt.Sprintf("# Denull\n\n```\n%s\n```", strings.Join(lines, "\n"))

	switch {
	case m.rewriting:
		markdown += fmt.Sprintf("\n\n%s Rewriting %d bytes...", m.spinner.View(), len(m.req.code))
	case m.resErr != nil:
		markdown += fmt.Sprintf("\n\n## Failed\n\n```\n%v\n```", m.resErr)
	case m.res != nil:
		markdown += "\n\n## Rewrites\n\n```\n"
		markdown += fmt.Sprintf("%d -> %d bytes in %d iteration(s)\n",
			len(m.req.code), len(m.res.Output), m.res.Iterations)
		for _, rw := range m.res.Rewrites {
			markdown += fmt.Sprintf("%06x  %-28s %s (%d -> %d bytes)\n",
				rw.Offset, rw.Op, rw.Strategy, rw.OldLen, rw.NewLen)
		}
		markdown += "```"
	}

	if m.writeStatus != "" {
		markdown += fmt.Sprintf("\n\n%s", m.writeStatus)
	}

	// Render markdown using glamour
	width := m.width
	if width == 0 {
		width = 80
	}
	renderer := styles.MarkdownRenderer(width - 2)
	rendered, _ := renderer.Render(markdown)
	m.viewport.SetContent(strings.TrimSuffix(rendered, "\n"))
}
