package monitor

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/erg"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/session"
	"github.com/lowaak/smart-trainer/erg-bridge/internal/store"
	"github.com/rivo/tview"
)

// Telemetry is the pipeline as seen by the dashboard
type Telemetry interface {
	ListenToTelemetry(ch chan<- erg.TelemetryState) func()
	DroppedSamples() uint64
}

// Session is the session controller as seen by the dashboard
type Session interface {
	Start()
	Stop(ctx context.Context) (store.Snapshot, bool)
	Data() session.DataView
}

// Dashboard is the operator console: live telemetry, the session panel and the log tail
type Dashboard struct {
	logger    *log.Logger
	app       *tview.Application
	telemetry Telemetry
	session   Session
	onQuit    func()

	telemetryPanel *tview.TextView
	sessionPanel   *tview.TextView
	logView        *tview.TextView
	mainFlex       *tview.Flex

	wg sync.WaitGroup
}

type NewDashboardArg struct {
	App       *tview.Application
	Telemetry Telemetry
	Session   Session
	Logger    *log.Logger
	OnQuit    func() // called for q/Esc, typically cancels the root context
}

func NewDashboard(arg NewDashboardArg) *Dashboard {
	if arg.App == nil {
		panic("Dashboard: app cannot be nil")
	}
	if arg.Telemetry == nil {
		panic("Dashboard: telemetry cannot be nil")
	}
	if arg.Session == nil {
		panic("Dashboard: session cannot be nil")
	}
	if arg.Logger == nil {
		panic("Dashboard: logger cannot be nil")
	}
	if arg.OnQuit == nil {
		arg.OnQuit = func() {}
	}
	d := &Dashboard{
		logger:    arg.Logger,
		app:       arg.App,
		telemetry: arg.Telemetry,
		session:   arg.Session,
		onQuit:    arg.OnQuit,
	}
	d.initWidgets()
	d.app.SetInputCapture(d.handleKey)
	return d
}

func (d *Dashboard) initWidgets() {
	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructions.SetText("[yellow]S[white] Start session  |  [yellow]X[white] Stop session  |  [yellow]Q[white] Quit")

	d.telemetryPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.telemetryPanel.SetBorder(true).SetTitle(" Erg ")
	d.telemetryPanel.SetText(formatTelemetry(erg.TelemetryState{Phase: erg.PhaseBooting.String()}, 0))

	d.sessionPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	d.sessionPanel.SetBorder(true).SetTitle(" Session ")
	d.sessionPanel.SetText(formatSession(d.session.Data()))

	// No SetChangedFunc with app.Draw here: it can hang once the app is stopped.
	// The telemetry listener redraws at every tick instead.
	d.logView = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true).
		SetMaxLines(500)
	d.logView.SetBorder(true).SetTitle(" Logs ")

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 1, 0, false).
		AddItem(d.telemetryPanel, 0, 2, false).
		AddItem(d.sessionPanel, 0, 1, false)

	d.mainFlex = tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(d.logView, 0, 1, false)
}

// LogWriter is where log output goes while the dashboard owns the terminal
func (d *Dashboard) LogWriter() io.Writer {
	return d.logView
}

func (d *Dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyCtrlC {
		d.onQuit()
		return nil
	}
	if event.Key() != tcell.KeyRune {
		return event
	}

	switch event.Rune() {
	case 's', 'S':
		d.session.Start()
	case 'x', 'X':
		if _, ok := d.session.Stop(context.Background()); !ok {
			d.logger.Println("Dashboard: no active session to stop")
		}
	case 'q', 'Q':
		d.onQuit()
	default:
		return event
	}
	d.sessionPanel.SetText(formatSession(d.session.Data()))
	return nil
}

// Run shows the dashboard until ctx is done
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan erg.TelemetryState, 1)
	unregister := d.telemetry.ListenToTelemetry(updates)

	d.wg.Add(1)
	go_func_utils.SafeGo(d.logger, "dashboard-telemetry", func() {
		defer d.wg.Done()
		defer unregister()
		for {
			select {
			case <-ctx.Done():
				return
			case state := <-updates:
				d.telemetryPanel.SetText(formatTelemetry(state, d.telemetry.DroppedSamples()))
				d.sessionPanel.SetText(formatSession(d.session.Data()))
				d.logView.ScrollToEnd()
				d.app.Draw()
			}
		}
	})

	d.wg.Add(1)
	go_func_utils.SafeGo(d.logger, "dashboard-stop", func() {
		defer d.wg.Done()
		<-ctx.Done()
		d.app.Stop()
	})

	// SetRoot must be called before Run, otherwise focus may be reset
	d.app.SetRoot(d.mainFlex, true)
	err := d.app.Run()
	cancel()
	d.wg.Wait()
	return err
}

func formatTelemetry(state erg.TelemetryState, dropped uint64) string {
	var b strings.Builder
	b.WriteString("\n")

	status := "[red]disconnected[white]"
	if state.Connected {
		status = "[green]connected[white]"
	}
	fmt.Fprintf(&b, "  Link:      %s (%s)\n\n", status, state.Phase)
	fmt.Fprintf(&b, "  Power:     [yellow]%d[white] W\n\n", state.Power)
	fmt.Fprintf(&b, "  Rate:      [yellow]%.1f[white] spm\n\n", state.Cadence)
	if dropped > 0 {
		fmt.Fprintf(&b, "  [gray]Dropped samples: %d[white]\n", dropped)
	}
	return b.String()
}

func formatSession(view session.DataView) string {
	var b strings.Builder
	b.WriteString("\n")

	if view.SessionActive {
		b.WriteString("  [green]Session running[white]\n\n")
		fmt.Fprintf(&b, "  Elapsed:   [yellow]%s[white]\n", formatElapsed(float64(view.ElapsedTime)))
		fmt.Fprintf(&b, "  Distance:  [yellow]%s[white]\n", formatDistance(float64(view.DistanceMeters)))
		fmt.Fprintf(&b, "  Energy:    [yellow]%.4f[white] kWh\n", view.EnergyKWh)
		return b.String()
	}

	b.WriteString("  [gray]No session running[white]\n\n")
	if last, ok := view.LastSessionSnapshot.(session.SnapshotView); ok {
		b.WriteString("  Last session:\n")
		fmt.Fprintf(&b, "    %s  %s  %.4f kWh\n", formatElapsed(last.ElapsedTime), formatDistance(last.DistanceMeters), last.EnergyKWh)
	}
	return b.String()
}

// formatElapsed renders seconds as MM:SS, or H:MM:SS past the hour
func formatElapsed(secs float64) string {
	total := int(secs)
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.2f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}
