package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-txkv/pkg/shell"
	"github.com/dd0wney/cluso-txkv/pkg/txdb"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	txnBadgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	consoleView view = iota
	statsView
	numViews
)

const historySize = 8

type keyMap struct {
	Tab   key.Binding
	Enter key.Binding
	Quit  key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "execute"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Enter, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Tab, k.Enter, k.Quit}}
}

type model struct {
	db          *txdb.DB
	session     *shell.Session
	currentView view
	input       textinput.Model
	results     table.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int
	message     string
	messageErr  bool
	history     []string
	startTime   time.Time
	stats       txdb.Stats
	quitting    bool
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func initialModel(db *txdb.DB, session *shell.Session) model {
	ti := textinput.New()
	ti.Placeholder = "BEGIN | PUT key value | GET key | COMMIT"
	ti.CharLimit = 512
	ti.Width = 60
	ti.Focus()

	columns := []table.Column{
		{Title: "Key", Width: 30},
		{Title: "Value", Width: 50},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)

	return model{
		db:          db,
		session:     session,
		currentView: consoleView,
		input:       ti,
		results:     t,
		help:        help.New(),
		keys:        keys,
		startTime:   time.Now(),
		stats:       db.Stats(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.stats = m.db.Stats()
		return m, tickCmd()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % numViews
			if m.currentView == consoleView {
				m.input.Focus()
			} else {
				m.input.Blur()
			}
			return m, nil

		case key.Matches(msg, m.keys.Enter):
			if m.currentView == consoleView {
				if m.execute() {
					m.quitting = true
					return m, tea.Quit
				}
				return m, nil
			}
		}
	}

	if m.currentView == consoleView {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

// execute runs the input line and reports whether the shell asked to exit
func (m *model) execute() bool {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return false
	}
	m.input.SetValue("")
	m.history = append(m.history, line)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}

	start := time.Now()
	res, err := m.session.Exec(line)
	if err != nil {
		m.message = err.Error()
		m.messageErr = true
		return false
	}

	rows := make([]table.Row, 0, len(res.Rows))
	for _, r := range res.Rows {
		rows = append(rows, table.Row{r[0], r[1]})
	}
	m.results.SetRows(rows)

	m.message = res.Message
	if m.message == "" {
		m.message = fmt.Sprintf("%d rows", len(rows))
	}
	m.message += fmt.Sprintf(" in %s", time.Since(start).Round(time.Microsecond))
	m.messageErr = false
	m.stats = m.db.Stats()
	return res.Exit
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("txkv - transactional key-value console"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case consoleView:
		s.WriteString(m.renderConsole())
	case statsView:
		s.WriteString(m.renderStats())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("✗ " + m.message))
		} else {
			s.WriteString(successStyle.Render("✓ " + m.message))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

func (m model) renderTabs() string {
	tabs := []string{"Console", "Stats"}
	var rendered []string
	for i, tab := range tabs {
		if view(i) == m.currentView {
			rendered = append(rendered, activeTabStyle.Render(tab))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderConsole() string {
	var s strings.Builder

	prompt := "cf " + m.session.ColumnFamily()
	if m.session.InTransaction() {
		prompt += "  " + txnBadgeStyle.Render("TXN")
	}
	s.WriteString(prompt)
	s.WriteString("\n")
	s.WriteString(m.input.View())
	s.WriteString("\n\n")
	s.WriteString(m.results.View())

	if len(m.history) > 0 {
		s.WriteString("\n\nRecent:\n")
		for _, h := range m.history {
			s.WriteString("  " + h + "\n")
		}
	}

	return contentStyle.Render(s.String())
}

func (m model) renderStats() string {
	uptime := time.Since(m.startTime).Round(time.Second)

	stats := fmt.Sprintf(`Database
──────────────────────
Latest sequence:     %d
Column families:     %d
Active transactions: %d
Live snapshots:      %d
Locked rows:         %d
Uptime:              %s`,
		m.stats.LatestSequence,
		m.stats.ColumnFamilies,
		m.stats.ActiveTransactions,
		m.stats.LiveSnapshots,
		m.stats.Locks,
		uptime)

	cache := fmt.Sprintf(`Merge cache
──────────────────────
Hits:    %d
Misses:  %d
Entries: %d`,
		m.stats.MergeCacheHits,
		m.stats.MergeCacheMisses,
		m.stats.MergeCacheEntries)

	return contentStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top,
		statsBoxStyle.Render(stats),
		statsBoxStyle.Render(cache)))
}
