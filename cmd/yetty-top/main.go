// Copyright 2026 The Yetty Authors
// SPDX-License-Identifier: Apache-2.0

// yetty-top is a live view of the host's card table, in the spirit of
// top: it polls cards_list over the RPC socket and redraws twice a
// second. Run it inside the terminal whose cards you want to watch.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/zokrezyl/yetty-poc-sub003/card"
	"github.com/zokrezyl/yetty-poc-sub003/rpc"
)

func main() {
	fs := pflag.NewFlagSet("yetty-top", pflag.ContinueOnError)
	socket := fs.String("socket", "", "RPC socket path (default: $YETTY_SOCKET)")
	interval := fs.Duration("interval", 500*time.Millisecond, "poll interval")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "yetty-top: %v\n", err)
		os.Exit(2)
	}

	path := *socket
	if path == "" {
		var err error
		if path, err = rpc.SocketPath(); err != nil {
			fmt.Fprintf(os.Stderr, "yetty-top: %v\n", err)
			os.Exit(1)
		}
	}

	client, err := rpc.Dial(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "yetty-top: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	program := tea.NewProgram(newModel(client, *interval))
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "yetty-top: %v\n", err)
		os.Exit(1)
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Faint(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dyingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type model struct {
	client   *rpc.Client
	interval time.Duration

	cards []card.Info
	err   error
}

type cardsMsg struct {
	cards []card.Info
	err   error
}

type tickMsg struct{}

func newModel(client *rpc.Client, interval time.Duration) model {
	return model{client: client, interval: interval}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll, m.tick())
}

func (m model) poll() tea.Msg {
	var infos []card.Info
	err := m.client.Request(rpc.ChannelQuery, "cards_list", nil, &infos)
	return cardsMsg{cards: infos, err: err}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.poll, m.tick())
	case cardsMsg:
		m.cards = msg.cards
		m.err = msg.err
	}
	return m, nil
}

func (m model) View() string {
	s := titleStyle.Render("yetty cards") + "\n\n"
	if m.err != nil {
		return s + errorStyle.Render(fmt.Sprintf("query failed: %v", m.err)) + "\n\nq to quit\n"
	}
	if len(m.cards) == 0 {
		return s + "no live cards\n\nq to quit\n"
	}

	s += headerStyle.Render(fmt.Sprintf("%-16s %-10s %-12s %s", "NAME", "ID", "KIND", "STATE")) + "\n"
	for _, info := range m.cards {
		state := activeStyle.Render(info.State)
		if info.State != "active" {
			state = dyingStyle.Render(info.State)
		}
		s += fmt.Sprintf("%-16s %-10s %-12s %s\n", info.Name, info.ID, info.Kind, state)
	}
	return s + "\nq to quit\n"
}
