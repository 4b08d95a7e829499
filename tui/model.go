// Package tui is the terminal dashboard behind `pcapconsole watch`. It polls
// the backend and renders the session timeout warning.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/netsentinel/pcapconsole/client"
	"github.com/netsentinel/pcapconsole/session"
)

const (
	maxJobRows  = 10
	pollTimeout = 10 * time.Second
)

// Source is the subset of client.Client the dashboard polls.
type Source interface {
	Health(ctx context.Context) (*client.Health, error)
	ListSensors(ctx context.Context) ([]client.Sensor, error)
	ListJobs(ctx context.Context, filter client.JobFilter) (*client.JobList, error)
}

// Session is the subset of session.Monitor the warning overlay drives.
type Session interface {
	Extend(ctx context.Context) error
	LogoutNow()
}

type (
	pollTickMsg struct{}
	pollMsg     struct {
		health  *client.Health
		sensors []client.Sensor
		jobs    *client.JobList
		err     error
		at      time.Time
	}
	// sessionMsg carries a Monitor event into the program.
	sessionMsg session.Event
	// endedMsg reports that the session was terminated outside the Monitor.
	endedMsg    struct{ reason error }
	extendedMsg struct{ err error }
)

// Model is the dashboard state.
type Model struct {
	src       Source
	sess      Session
	poll      time.Duration
	countdown time.Duration

	spinner  spinner.Model
	progress progress.Model
	width    int

	polling  bool
	health   *client.Health
	sensors  []client.Sensor
	jobs     *client.JobList
	pollErr  error
	polledAt time.Time

	phase     session.Phase
	remaining time.Duration
	extending bool
	notice    string

	ended    error
	quitting bool
}

// NewModel returns a dashboard polling src every poll interval. countdown
// is the warning length used to scale the progress bar.
func NewModel(src Source, sess Session, poll, countdown time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorAccent)

	p := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	p.Width = 40

	return Model{
		src:       src,
		sess:      sess,
		poll:      poll,
		countdown: countdown,
		spinner:   s,
		progress:  p,
		phase:     session.PhaseActive,
	}
}

// Ended returns why the session ended, or nil if the user quit.
func (m Model) Ended() error { return m.ended }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		defer cancel()
		res := pollMsg{at: time.Now()}
		var err error
		if res.health, err = src.Health(ctx); err != nil {
			res.err = err
			return res
		}
		if res.sensors, err = src.ListSensors(ctx); err != nil {
			res.err = err
			return res
		}
		res.jobs, res.err = src.ListJobs(ctx, client.JobFilter{Limit: maxJobRows})
		return res
	}
}

func (m Model) schedulePoll() tea.Cmd {
	return tea.Tick(m.poll, func(time.Time) tea.Msg { return pollTickMsg{} })
}

func (m Model) extend() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		return extendedMsg{err: sess.Extend(context.Background())}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width/2, 20), 60)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollTickMsg:
		if m.polling {
			return m, nil
		}
		m.polling = true
		return m, m.fetch()

	case pollMsg:
		m.polling = false
		m.polledAt = msg.at
		m.pollErr = msg.err
		if msg.err == nil {
			m.health, m.sensors, m.jobs = msg.health, msg.sensors, msg.jobs
		}
		return m, m.schedulePoll()

	case sessionMsg:
		m.phase = msg.Phase
		m.remaining = msg.Remaining
		switch msg.Phase {
		case session.PhaseActive:
			m.extending = false
			m.notice = "session extended"
		case session.PhaseExpired:
			m.ended = msg.Err
			if m.ended == nil {
				m.ended = session.ErrSessionExpired
			}
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case endedMsg:
		m.ended = msg.reason
		m.quitting = true
		return m, tea.Quit

	case extendedMsg:
		m.extending = false
		if msg.err != nil && !errors.Is(msg.err, session.ErrExtendInProgress) && !errors.Is(msg.err, session.ErrNotWarning) {
			m.notice = "extend failed: " + msg.err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	}
	if m.phase != session.PhaseWarning {
		if msg.String() == "r" && !m.polling {
			m.polling = true
			return m, m.fetch()
		}
		return m, nil
	}
	switch msg.String() {
	case "s", "enter":
		if m.extending {
			return m, nil
		}
		m.extending = true
		return m, m.extend()
	case "l":
		sess := m.sess
		return m, func() tea.Msg {
			sess.LogoutNow()
			return nil
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.phase == session.PhaseWarning {
		return m.warningView()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("pcapconsole"))
	if m.polling {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")
	b.WriteString(m.healthView())
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.sensorsView()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(m.jobsView()))
	b.WriteString("\n")
	if m.pollErr != nil {
		b.WriteString(errStyle.Render("poll failed: "+m.pollErr.Error()) + "\n")
	}
	if m.notice != "" {
		b.WriteString(mutedStyle.Render(m.notice) + "\n")
	}
	footer := "r refresh • q quit"
	if !m.polledAt.IsZero() {
		footer = "updated " + m.polledAt.Format(time.TimeOnly) + " • " + footer
	}
	b.WriteString(mutedStyle.Render(footer))
	return b.String()
}

func (m Model) healthView() string {
	if m.health == nil {
		return mutedStyle.Render("waiting for backend...") + "\n"
	}
	return fmt.Sprintf("%s %s  %s %s  %s %s\n",
		headStyle.Render("status"), statusStyle(m.health.Status).Render(m.health.Status),
		headStyle.Render("version"), m.health.Version,
		headStyle.Render("uptime"), m.health.Uptime,
	)
}

func (m Model) sensorsView() string {
	var b strings.Builder
	b.WriteString(headStyle.Render(fmt.Sprintf("%-14s %-5s %-9s %10s %6s", "SENSOR", "SITE", "STATUS", "MBPS", "DISK")))
	for _, s := range m.sensors {
		b.WriteString(fmt.Sprintf("\n%-14s %-5s %s %10.1f %5.1f%%",
			s.Name, s.Site, statusStyle(s.Status).Render(fmt.Sprintf("%-9s", s.Status)), s.CaptureRateMbps, s.DiskUsedPct))
	}
	if len(m.sensors) == 0 {
		b.WriteString("\n" + mutedStyle.Render("no sensors"))
	}
	return b.String()
}

func (m Model) jobsView() string {
	var b strings.Builder
	b.WriteString(headStyle.Render(fmt.Sprintf("%-20s %-10s %-10s %12s", "JOB", "STATUS", "OWNER", "BYTES")))
	if m.jobs == nil || len(m.jobs.Jobs) == 0 {
		b.WriteString("\n" + mutedStyle.Render("no capture jobs"))
		return b.String()
	}
	for _, j := range m.jobs.Jobs {
		b.WriteString(fmt.Sprintf("\n%-20s %s %-10s %12d",
			truncate(j.Name, 20), statusStyle(j.Status).Render(fmt.Sprintf("%-10s", j.Status)), truncate(j.Owner, 10), j.BytesCaptured))
	}
	if m.jobs.HasMore {
		b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("… %d more", m.jobs.TotalCount-len(m.jobs.Jobs))))
	}
	return b.String()
}

func (m Model) warningView() string {
	secs := session.DisplaySeconds(m.remaining)
	pct := 0.0
	if m.countdown > 0 {
		pct = min(1, float64(m.remaining)/float64(m.countdown))
	}
	action := "[s] Stay Connected    [l] Logout Now"
	if m.extending {
		action = m.spinner.View() + " extending session..."
	}
	body := lipgloss.JoinVertical(lipgloss.Center,
		titleStyle.Render("Session timeout"),
		"",
		fmt.Sprintf("Session expires in %ds", secs),
		"",
		m.progress.ViewAs(pct),
		"",
		action,
	)
	box := warningStyle.Render(body)
	if m.width > 0 {
		return lipgloss.PlaceHorizontal(m.width, lipgloss.Center, box)
	}
	return box
}

// truncate cuts s to n terminal cells.
func truncate(s string, n int) string {
	return runewidth.Truncate(s, n, "…")
}
