// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/station"
	"github.com/spoorlab/dccstation/pkg/throttlelink"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live station status display",
	Long: `Watch a running station: free buffers, packets sent, timer health
and the live transmission buffer table, refreshed continuously over the
throttle link.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor()
	},
}

func init() {
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", time.Second, "Status poll interval")
	rootCmd.AddCommand(monitorCmd)
}

type statusMsg throttlelink.StatusSnapshot

type connLostMsg struct{ err error }

type monitorModel struct {
	connDesc string
	spinner  spinner.Model
	scan     table.Model

	status    *throttlelink.StatusSnapshot
	updatedAt time.Time
	polls     uint64
	connErr   error
	quitting  bool
	width     int
	height    int
}

func initialMonitorModel(connDesc string) monitorModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	columns := []table.Column{
		{Title: "Target", Width: 14},
		{Title: "State", Width: 8},
		{Title: "Action", Width: 24},
		{Title: "Repeats", Width: 8},
		{Title: "Pending", Width: 8},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	tbl.SetStyles(styles)

	return monitorModel{
		connDesc: connDesc,
		spinner:  sp,
		scan:     tbl,
		width:    80,
		height:   24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusMsg:
		s := throttlelink.StatusSnapshot(msg)
		m.status = &s
		m.updatedAt = time.Now()
		m.polls++
		m.scan.SetRows(scanRows(s.Scan))

	case connLostMsg:
		m.connErr = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.scan, cmd = m.scan.Update(msg)
	return m, cmd
}

func scanRows(scan []throttlelink.ScanRow) []table.Row {
	rows := make([]table.Row, 0, len(scan))
	for _, r := range scan {
		kind := station.TargetKind(r.Kind).String()
		state := "run"
		if r.Pending > 0 {
			state = "load"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%s %d", kind, r.Address),
			state,
			station.FormatAction(r.Action),
			fmt.Sprintf("%d", r.Repeats),
			fmt.Sprintf("%d", r.Pending),
		})
	}
	return rows
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("DCC STATION MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Poll: %s | Press 'q' to quit",
		m.connDesc, monitorInterval)))
	s.WriteString("\n\n")

	if m.status == nil {
		s.WriteString(m.spinner.View())
		s.WriteString(" Waiting for first status...\n")
		return s.String()
	}

	stats := strings.Builder{}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Free buffers:"), valueStyle.Render(fmt.Sprintf("%d", m.status.FreeBuffers)),
		labelStyle.Render("Packets sent:"), valueStyle.Render(fmt.Sprintf("%d", m.status.PacketsSent)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("IRQ delay:"), valueStyle.Render(fmt.Sprintf("%d cycles", m.status.IRQDelay)),
		labelStyle.Render("Phase syncs:"), valueStyle.Render(fmt.Sprintf("%d", m.status.IRQSyncs)),
	))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render(fmt.Sprintf("Live targets (%d)", len(m.status.Scan))))
	s.WriteString("\n")
	if len(m.status.Scan) == 0 {
		s.WriteString(headerStyle.Render("  (only the idle buffer is radiating)"))
		s.WriteString("\n")
	} else {
		s.WriteString(m.scan.View())
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Updated %s ago (%d polls)",
		time.Since(m.updatedAt).Round(time.Second), m.polls)))
	s.WriteString("\n")

	return s.String()
}

func runMonitor() error {
	conn, connDesc, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	p := tea.NewProgram(initialMonitorModel(connDesc))

	// Reader: decode inbound frames and push status snapshots to the UI.
	go func() {
		decoder := throttlelink.NewDecoder()
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				p.Send(connLostMsg{err: err})
				return
			}
			for _, b := range buf[:n] {
				msg, err := decoder.DecodeByte(b)
				if err != nil || msg == nil {
					continue
				}
				if msg.Type() != throttlelink.MsgStatus {
					continue
				}
				p.Send(statusMsg(throttlelink.ParseStatus(msg.PayloadMap())))
			}
		}
	}()

	// Poller: request a status snapshot at the configured interval.
	stopPoll := make(chan struct{})
	defer close(stopPoll)
	go func() {
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()
		for {
			frame, err := throttlelink.NewEncoder().Encode(throttlelink.NewStatusRequest())
			if err != nil {
				return
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
			select {
			case <-ticker.C:
			case <-stopPoll:
				return
			}
		}
	}()

	model, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := model.(monitorModel); ok && m.connErr != nil && m.connErr != ErrConnectionClosed {
		return fmt.Errorf("connection lost: %v", m.connErr)
	}
	return nil
}
