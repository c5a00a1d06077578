package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/monitor"
)

// Controller is the job surface the tray shows and cancels.
type Controller interface {
	Progress() monitor.Snapshot
	OnProgress(fn func(monitor.Snapshot))
	Cancel()
}

type Tray struct {
	ctrl   Controller
	logger *slog.Logger

	statusItem *systray.MenuItem
	cancelItem *systray.MenuItem

	mu      sync.Mutex
	ready   bool
	updates chan monitor.Snapshot

	onQuit func()
}

type TrayConfig struct {
	Controller Controller
	Logger     *slog.Logger
	OnQuit     func()
}

func NewTray(cfg TrayConfig) *Tray {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	t := &Tray{
		ctrl:    cfg.Controller,
		logger:  logging.WithComponent(logger, "tray"),
		updates: make(chan monitor.Snapshot, 1),
		onQuit:  cfg.OnQuit,
	}
	// Runs under the monitor's lock, so only hand the snapshot off.
	cfg.Controller.OnProgress(t.push)
	return t
}

// Run blocks on the platform event loop.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Studio")
	systray.SetTooltip("Short Studio Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current job")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel job", "Stop following the running job")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Short Studio Agent")

	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
	t.apply(t.ctrl.Progress())

	go func() {
		for {
			select {
			case snap := <-t.updates:
				t.apply(snap)
			case <-t.cancelItem.ClickedCh:
				t.logger.Info("cancel requested from tray")
				t.ctrl.Cancel()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// push keeps only the newest snapshot.
func (t *Tray) push(snap monitor.Snapshot) {
	for {
		select {
		case t.updates <- snap:
			return
		default:
		}
		select {
		case <-t.updates:
		default:
		}
	}
}

func (t *Tray) apply(snap monitor.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}

	title := ProgressTitle(snap)
	t.statusItem.SetTitle("Status: " + title)
	systray.SetTooltip("Short Studio Agent: " + title)
	if snap.Loading() {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

var kindVerbs = map[string][2]string{
	monitor.KindAnalyze: {"Analyzing", "Analysis"},
	monitor.KindExport:  {"Exporting", "Export"},
	monitor.KindBatch:   {"Batch", "Batch"},
}

// ProgressTitle renders a snapshot as a short status line, e.g. "Exporting 42%".
func ProgressTitle(snap monitor.Snapshot) string {
	verbs, ok := kindVerbs[snap.Kind]
	if !ok {
		verbs = [2]string{"Working", "Job"}
	}

	switch snap.State {
	case monitor.StatePolling:
		return fmt.Sprintf("%s %d%%", verbs[0], clampPercent(snap.Status.Percent))
	case monitor.StateDone:
		return verbs[1] + " done"
	case monitor.StateFailed:
		return verbs[1] + " failed"
	default:
		return "Idle"
	}
}

func clampPercent(p int) int {
	return max(0, min(p, 100))
}
