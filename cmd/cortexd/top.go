package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cortexhq/cortexd/internal/wire"
)

func topCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Live-updating view of cluster leadership, membership, and capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialedClient()
			if err != nil {
				return err
			}
			defer c.Close()

			p := tea.NewProgram(newTopModel(c))
			_, err = p.Run()
			return err
		},
	}
}

type topTickMsg struct{}

type topStateMsg struct {
	state *wire.GetClusterStateResponse
	err   error
}

type topModel struct {
	client *clusterClient
	state  *wire.GetClusterStateResponse
	err    error
}

func newTopModel(c *clusterClient) topModel {
	return topModel{client: c}
}

func (m topModel) Init() tea.Cmd {
	return tea.Batch(m.fetch, tick())
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg { return topTickMsg{} })
}

func (m topModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := m.client.GetClusterState(ctx)
	return topStateMsg{state: state, err: err}
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case topTickMsg:
		return m, tea.Batch(m.fetch, tick())
	case topStateMsg:
		m.state, m.err = msg.state, msg.err
	}
	return m, nil
}

func (m topModel) View() string {
	s := strings.Builder{}
	s.WriteString(titleStyle.Render(" cortex top ") + "  (q to quit)\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(m.err.Error()) + "\n")
		return s.String()
	}
	if m.state == nil {
		s.WriteString(subtleStyle.Render("connecting...") + "\n")
		return s.String()
	}

	s.WriteString(fmt.Sprintf("cluster %s   term %d   leader %s\n\n", m.state.ClusterID, m.state.Term, leaderBadgeStyle.Render(m.state.LeaderID)))
	s.WriteString(fmt.Sprintf("%-16s %-10s %-10s %s\n", "NODE", "ROLE", "STATUS", "MESH IP"))
	for _, n := range m.state.Nodes {
		s.WriteString(fmt.Sprintf("%-16s %-10s %-10s %s\n", n.NodeID, n.Role, statusLabel(n.Status), n.MeshIP))
	}

	s.WriteString(fmt.Sprintf("\ncapacity: %d/%d cores, %s/%s mem, %d/%d GPUs\n",
		m.state.AvailCPUCores, m.state.TotalCPUCores,
		formatGiB(m.state.AvailMemoryBytes), formatGiB(m.state.TotalMemoryBytes),
		m.state.AvailGPUCount, m.state.TotalGPUCount))
	s.WriteString(fmt.Sprintf("tasks: %d active, %d queued\n", m.state.ActiveTasks, m.state.QueuedTasks))
	return s.String()
}
