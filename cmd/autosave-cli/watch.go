package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"autosave/internal/event"
	"autosave/internal/ipc"
)

var severityColors = map[event.Severity]tcell.Color{
	event.SeveritySuccess: tcell.ColorGreen,
	event.SeverityWarning: tcell.ColorYellow,
	event.SeverityError:   tcell.ColorRed,
	event.SeverityInfo:    tcell.ColorSilver,
	event.SeverityStartup: tcell.ColorAqua,
	event.SeverityActive:  tcell.ColorBlue,
	event.SeveritySave:    tcell.ColorLime,
}

var statusColors = map[event.StatusKind]string{
	event.StatusInitializing: "gray",
	event.StatusWaiting:      "yellow",
	event.StatusActive:       "green",
	event.StatusPaused:       "orange",
	event.StatusSaved:        "aqua",
}

func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Live status view of the daemon (q to quit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("watch needs an interactive terminal; use 'status' instead")
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			return runWatch(interval)
		},
	}
	watchCmd.Flags().Duration("interval", time.Second, "Refresh interval")
	return watchCmd
}

func runWatch(interval time.Duration) error {
	app := tview.NewApplication()

	header := tview.NewTextView().SetDynamicColors(true)
	header.SetBorder(true).SetTitle(" AutoSave ")

	logTable := tview.NewTable().SetFixed(1, 0)
	logTable.SetBorder(true).SetTitle(" Log ")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(logTable, 0, 1, true)

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return ev
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			st, err := fetchStatus()
			app.QueueUpdateDraw(func() {
				_, _, width, _ := logTable.GetInnerRect()
				renderHeader(header, st, err)
				renderLog(logTable, st.RecentLog, width)
			})
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
	defer close(done)

	return app.SetRoot(layout, true).Run()
}

func fetchStatus() (ipc.StatusData, error) {
	var st ipc.StatusData
	resp, err := request(ipc.Command{Name: ipc.CmdGetStatus})
	if err != nil {
		return st, err
	}
	if !resp.Success {
		return st, errors.New(resp.Message)
	}
	return st, decodeData(resp.Data, &st)
}

func renderHeader(tv *tview.TextView, st ipc.StatusData, err error) {
	if err != nil {
		tv.SetText(fmt.Sprintf("[red]Daemon unreachable:[-] %v", err))
		return
	}
	color, ok := statusColors[st.Status.Kind]
	if !ok {
		color = "white"
	}
	app := "-"
	if st.App != "" {
		app = fmt.Sprintf("%s (%s) since %s", st.App, st.Process, st.Since)
	}
	cfg := st.Config
	autoSave := "off"
	if cfg.AutoSaveEnabled {
		autoSave = fmt.Sprintf("every %ds", cfg.AutoSaveIntervalSeconds)
	}
	backup := "off"
	if cfg.SmartBackupEnabled {
		backup = fmt.Sprintf("every %dm", cfg.SmartBackupIntervalMinutes)
	}
	tv.SetText(fmt.Sprintf(
		"Status:    [%s::b]%s[-::-]\nApp:       %s\nAuto-save: %s   Smart Backup: %s\nProvider:  %s (%s), %d apps watched",
		color, tview.Escape(st.Status.Label), tview.Escape(app), autoSave, backup,
		st.Provider, st.Sampler, len(cfg.MonitoredApps)))
}

// renderLog shows the newest entries first, truncated to the table width.
func renderLog(table *tview.Table, entries []event.LogEntry, width int) {
	table.Clear()
	table.SetCell(0, 0, tview.NewTableCell("TIME").SetSelectable(false).SetTextColor(tcell.ColorYellow))
	table.SetCell(0, 1, tview.NewTableCell("MESSAGE").SetSelectable(false).SetTextColor(tcell.ColorYellow))

	msgWidth := width - 12
	if msgWidth < 10 {
		msgWidth = 10
	}
	row := 1
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		color, ok := severityColors[e.Severity]
		if !ok {
			color = tcell.ColorWhite
		}
		table.SetCell(row, 0, tview.NewTableCell(e.Timestamp.Local().Format("15:04:05")))
		table.SetCell(row, 1, tview.NewTableCell(tview.Escape(runewidth.Truncate(e.Message, msgWidth, "…"))).SetTextColor(color))
		row++
	}
}
