package main

import (
	"context"
	"fmt"
	"time"

	"sage/pkg/protocol"
	"sage/pkg/store"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// newDashCmd creates the "sage dash" subcommand.
func newDashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Launch the interactive dashboard",
		Long:  "Opens a terminal dashboard showing advisor suggestions and the engine\nevent log, refreshed every two seconds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("dash: %w", err)
			}
			defer func() { _ = st.Close() }()

			p := tea.NewProgram(newDashModel(st), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("dash: %w", err)
			}
			return nil
		},
	}
}

// dashTick triggers a periodic data refresh.
type dashTick time.Time

// dashData carries one refresh of store-backed rows.
type dashData struct {
	suggestions []protocol.Suggestion
	events      []store.EventRow
	err         error
}

type dashPane int

const (
	paneSuggestions dashPane = iota
	paneEvents
)

// dashModel is the Bubble Tea model for the sage dashboard.
type dashModel struct {
	st          *store.Store
	active      dashPane
	suggestions table.Model
	events      table.Model
	lastErr     error

	titleStyle lipgloss.Style
	hintStyle  lipgloss.Style
}

func newDashModel(st *store.Store) dashModel {
	sugg := table.New(
		table.WithColumns([]table.Column{
			{Title: "Status", Width: 10},
			{Title: "Severity", Width: 8},
			{Title: "Title", Width: 48},
			{Title: "Session", Width: 14},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	events := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 19},
			{Title: "Event", Width: 28},
			{Title: "Session", Width: 14},
			{Title: "Detail", Width: 40},
		}),
		table.WithHeight(12),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	sugg.SetStyles(styles)
	events.SetStyles(styles)

	return dashModel{
		st:          st,
		suggestions: sugg,
		events:      events,
		titleStyle:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
		hintStyle:   lipgloss.NewStyle().Faint(true).Padding(0, 1),
	}
}

func dashTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return dashTick(t)
	})
}

// fetchCmd loads the current suggestion and event rows from the store.
func (m dashModel) fetchCmd() tea.Cmd {
	st := m.st
	return func() tea.Msg {
		ctx := context.Background()
		var d dashData
		d.suggestions, d.err = st.ListSuggestions(ctx, store.SuggestionFilter{Limit: 50})
		if d.err != nil {
			return d
		}
		d.events, d.err = st.RecentEvents(ctx, 50)
		return d
	}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), dashTickCmd())
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.active == paneSuggestions {
				m.active = paneEvents
				m.suggestions.Blur()
				m.events.Focus()
			} else {
				m.active = paneSuggestions
				m.events.Blur()
				m.suggestions.Focus()
			}
			return m, nil
		}
	case dashTick:
		return m, tea.Batch(m.fetchCmd(), dashTickCmd())
	case dashData:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.suggestions.SetRows(suggestionRows(msg.suggestions))
		m.events.SetRows(eventRows(msg.events))
		return m, nil
	}

	var cmd tea.Cmd
	if m.active == paneSuggestions {
		m.suggestions, cmd = m.suggestions.Update(msg)
	} else {
		m.events, cmd = m.events.Update(msg)
	}
	return m, cmd
}

func (m dashModel) View() string {
	var body string
	if m.active == paneSuggestions {
		body = m.titleStyle.Render("Suggestions") + "\n" + m.suggestions.View()
	} else {
		body = m.titleStyle.Render("Event log") + "\n" + m.events.View()
	}
	hint := m.hintStyle.Render("tab: switch pane   q: quit")
	if m.lastErr != nil {
		hint = m.hintStyle.Render("refresh error: " + m.lastErr.Error())
	}
	return body + "\n" + hint
}

func suggestionRows(list []protocol.Suggestion) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, sg := range list {
		rows = append(rows, table.Row{sg.Status, sg.Severity, sg.Title, sg.SessionID})
	}
	return rows
}

func eventRows(list []store.EventRow) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, ev := range list {
		rows = append(rows, table.Row{ev.CreatedAt, ev.Type, ev.SessionID, ev.Payload})
	}
	return rows
}
