package tui

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/netsentinel/pcapconsole/session"
)

// Dashboard runs the bubbletea program. Notify and SessionEnded may be
// called from any goroutine; calls before Run are dropped.
type Dashboard struct {
	src       Source
	poll      time.Duration
	countdown time.Duration
	program   atomic.Pointer[tea.Program]
}

func New(src Source, poll, countdown time.Duration) *Dashboard {
	return &Dashboard{src: src, poll: poll, countdown: countdown}
}

// Notify forwards a Monitor event. Pass it to session.WithNotify.
func (d *Dashboard) Notify(ev session.Event) {
	if p := d.program.Load(); p != nil {
		p.Send(sessionMsg(ev))
	}
}

// SessionEnded stops the dashboard after a logout the Monitor did not
// initiate, such as a failed refresh.
func (d *Dashboard) SessionEnded(reason error) {
	if p := d.program.Load(); p != nil {
		p.Send(endedMsg{reason: reason})
	}
}

// Run starts mon and blocks until the user quits or the session ends. It
// returns the reason the session ended, or nil if the user quit.
func (d *Dashboard) Run(ctx context.Context, mon *session.Monitor) error {
	model := NewModel(d.src, mon, d.poll, d.countdown)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	d.program.Store(p)
	defer d.program.Store(nil)

	mon.Start()
	defer mon.Stop()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Ended()
	}
	return nil
}
