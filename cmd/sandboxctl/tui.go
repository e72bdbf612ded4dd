package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func newTUICommand(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Live-refreshing sessions dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newDashboardModel(client())
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

type tickMsg time.Time

type sessionsMsg struct {
	sessions []sessionInfo
	err      error
}

type dashboardModel struct {
	client   *apiClient
	table    table.Model
	lastErr  error
	lastPoll time.Time
}

func newDashboardModel(client *apiClient) dashboardModel {
	columns := []table.Column{
		{Title: "Session", Width: 36},
		{Title: "Persistent", Width: 10},
		{Title: "TTL", Width: 8},
		{Title: "Remaining", Width: 10},
		{Title: "ttyd", Width: 24},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(15))
	return dashboardModel{client: client, table: t}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(pollSessions(m.client), tick())
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func pollSessions(client *apiClient) tea.Cmd {
	return func() tea.Msg {
		sessions, err := client.listSessions()
		return sessionsMsg{sessions: sessions, err: err}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(pollSessions(m.client), tick())
	case sessionsMsg:
		m.lastPoll = time.Now()
		m.lastErr = msg.err
		if msg.err == nil {
			rows := make([]table.Row, 0, len(msg.sessions))
			for _, s := range msg.sessions {
				rows = append(rows, table.Row{
					s.SessionID,
					fmt.Sprintf("%v", s.Persistent),
					fmt.Sprintf("%ds", s.TTLSeconds),
					fmt.Sprintf("%ds", s.RemainingSeconds),
					s.TTYDURL,
				})
			}
			m.table.SetRows(rows)
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m dashboardModel) View() string {
	status := footerStyle.Render(fmt.Sprintf("last refresh: %s · q to quit", m.lastPoll.Format(time.Kitchen)))
	if m.lastErr != nil {
		status = errorStyle.Render("error: "+m.lastErr.Error()) + "\n" + status
	}
	return headerStyle.Render("sandboxd sessions") + "\n\n" + m.table.View() + "\n\n" + status
}
