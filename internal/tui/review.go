package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/review"
)

// ErrCancelled reports a review the user quit without saving.
var ErrCancelled = errors.New("review cancelled")

const (
	defaultListHeight = 15
	chromeHeight      = 9
	nameWidth         = 28
)

type confirmKind int

const (
	confirmNone confirmKind = iota
	confirmAllowRest
	confirmReset
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)

	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8E4EC6")).Bold(true)
	nameStyle   = lipgloss.NewStyle().Width(nameWidth).MarginRight(1)
	descStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5A50A"))

	choiceStyles = map[review.Choice]lipgloss.Style{
		review.Unset:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		review.Allow:     lipgloss.NewStyle().Foreground(lipgloss.Color("#2E8B57")).Bold(true),
		review.Deny:      lipgloss.NewStyle().Foreground(lipgloss.Color("#D14343")).Bold(true),
		review.Malicious: lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#B00020")).Bold(true),
		review.Ignore:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
	choiceLabels = map[review.Choice]string{
		review.Unset:     "[ ]",
		review.Allow:     "[allow]",
		review.Deny:      "[deny]",
		review.Malicious: "[malicious]",
		review.Ignore:    "[ignore]",
	}
	choiceKeys = map[string]review.Choice{
		"a": review.Allow,
		"d": review.Deny,
		"m": review.Malicious,
		"i": review.Ignore,
	}
)

// Model is the interactive review screen for one inventory snapshot.
type Model struct {
	snapshot inventory.Snapshot
	state    *review.State

	search    textinput.Model
	searching bool
	sortKey   inventory.SortKey
	visible   []inventory.Tool
	cursor    int
	offset    int

	confirm confirmKind
	pending int
	status  string

	bar    progress.Model
	height int

	saved    bool
	quitting bool
}

// NewModel starts a review of snap. A nil state starts from scratch.
func NewModel(snap inventory.Snapshot, state *review.State) Model {
	if state == nil {
		state = review.NewState()
	}
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "name, title:name or desc:text"
	search.CharLimit = 256

	m := Model{
		snapshot: snap,
		state:    state,
		search:   search,
		sortKey:  inventory.SortByName,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		height:   defaultListHeight,
	}
	m.refilter()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

// State returns the decisions made so far.
func (m Model) State() *review.State {
	return m.state
}

// Saved reports whether the user confirmed the review for saving.
func (m Model) Saved() bool {
	return m.saved
}

// Visible returns the tools currently shown, in display order.
func (m Model) Visible() []inventory.Tool {
	return m.visible
}

// Progress reports decision coverage over the whole inventory.
func (m Model) Progress() review.Progress {
	return m.state.Progress(m.snapshot.Names())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-chromeHeight, 1)
		m.clampOffset()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		if m.confirm != confirmNone {
			return m.updateConfirm(msg)
		}
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.refilter()
	return m, cmd
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	kind := m.confirm
	m.confirm = confirmNone
	accepted := msg.String() == "y" || msg.String() == "Y"
	switch kind {
	case confirmAllowRest:
		n, err := m.state.AllowUnset(m.visibleNames(), func(int) bool { return accepted })
		switch {
		case err != nil:
			m.status = err.Error()
		default:
			m.status = fmt.Sprintf("Allowed %d tools.", n)
		}
	case confirmReset:
		if accepted {
			m.state.Reset()
			m.status = "All decisions cleared."
		} else {
			m.status = "Reset cancelled."
		}
	}
	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	key := msg.String()
	if choice, ok := choiceKeys[key]; ok {
		if tool, ok := m.current(); ok {
			if _, err := m.state.SetChoice(tool.Name, choice); err != nil {
				m.status = err.Error()
			}
		}
		return m, nil
	}

	switch key {
	case "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.clampOffset()
	case "down", "j":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
		m.clampOffset()
	case "/":
		m.searching = true
		cmd := m.search.Focus()
		return m, cmd
	case "s":
		if m.sortKey == inventory.SortByName {
			m.sortKey = inventory.SortByDescriptionLength
		} else {
			m.sortKey = inventory.SortByName
		}
		m.refilter()
	case "A":
		eligible := m.state.UnsetAmong(m.visibleNames())
		if len(eligible) == 0 {
			m.status = review.ErrNothingToAllow.Error()
			return m, nil
		}
		m.confirm = confirmAllowRest
		m.pending = len(eligible)
	case "r":
		if m.state.Reviewed() == 0 {
			m.status = "Nothing to reset."
			return m, nil
		}
		m.confirm = confirmReset
	case "enter", "w":
		p := m.Progress()
		if !p.Complete() {
			m.status = fmt.Sprintf("Review every tool before saving (%s).", p)
			return m, nil
		}
		m.saved = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) refilter() {
	var selected string
	if tool, ok := m.current(); ok {
		selected = tool.Name
	}
	m.visible = inventory.Filter(m.snapshot.Tools, m.search.Value(), m.sortKey)
	m.cursor = 0
	for i, tool := range m.visible {
		if tool.Name == selected {
			m.cursor = i
			break
		}
	}
	m.clampOffset()
}

func (m *Model) clampOffset() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+m.height {
		m.offset = m.cursor - m.height + 1
	}
	m.offset = max(m.offset, 0)
}

func (m Model) current() (inventory.Tool, bool) {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return inventory.Tool{}, false
	}
	return m.visible[m.cursor], true
}

func (m Model) visibleNames() []string {
	names := make([]string, 0, len(m.visible))
	for _, tool := range m.visible {
		names = append(names, tool.Name)
	}
	return names
}

func (m Model) View() string {
	if m.quitting || m.saved {
		return ""
	}
	var b strings.Builder

	title := fmt.Sprintf("Reviewing %d tools from %s", len(m.snapshot.Tools), m.snapshot.ServerName)
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")

	if m.searching || m.search.Value() != "" {
		b.WriteString(m.search.View())
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(fmt.Sprintf("sort: %s  showing %d", m.sortKey, len(m.visible))))
	b.WriteString("\n\n")

	if len(m.visible) == 0 {
		b.WriteString(descStyle.Render("  No tools match the search."))
		b.WriteString("\n")
	}
	end := min(m.offset+m.height, len(m.visible))
	for i := m.offset; i < end; i++ {
		tool := m.visible[i]
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		choice := m.state.Choice(tool.Name)
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			marker,
			choiceStyles[choice].Width(12).Render(choiceLabels[choice]),
			nameStyle.Render(inventory.Truncate(tool.Name, nameWidth)),
			descStyle.Render(inventory.Truncate(inventory.FirstLine(tool.Description), 60)),
		)
		b.WriteString(row)
		b.WriteString("\n")
	}

	p := m.Progress()
	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Reviewed) / float64(p.Total)
	}
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(percent))
	b.WriteString(" ")
	b.WriteString(p.String())
	b.WriteString("\n")

	switch m.confirm {
	case confirmAllowRest:
		b.WriteString(statusStyle.Render(fmt.Sprintf("Allow %d unreviewed visible tools? (y/n)", m.pending)))
		b.WriteString("\n")
	case confirmReset:
		b.WriteString(statusStyle.Render("Clear every decision? (y/n)"))
		b.WriteString("\n")
	default:
		if m.status != "" {
			b.WriteString(statusStyle.Render(m.status))
			b.WriteString("\n")
		}
	}

	help := "a allow  d deny  m malicious  i ignore  / search  s sort  A allow rest  r reset  q quit"
	if p.Complete() {
		help += "  enter save"
	}
	b.WriteString(helpStyle.Render(help))
	b.WriteString("\n")
	return b.String()
}

// Run shows the review screen and returns the final state once the user
// saves. Quitting early returns ErrCancelled.
func Run(snap inventory.Snapshot, state *review.State, opts ...tea.ProgramOption) (*review.State, error) {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	result, err := tea.NewProgram(NewModel(snap, state), opts...).Run()
	if err != nil {
		return nil, err
	}
	final, ok := result.(Model)
	if !ok || !final.Saved() {
		return nil, ErrCancelled
	}
	return final.State(), nil
}
