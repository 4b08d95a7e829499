package devserver

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxFilterLen       = 1024
	defaultJobDuration = 10 * time.Minute
	maxJobDuration     = 24 * time.Hour
)

// dataset is the in-memory collection system behind the dev server: a
// fixed fleet of sensors, the capture jobs submitted against it, and the
// per-user preferences.
type dataset struct {
	mu      sync.RWMutex
	sites   []Site
	sensors []Sensor
	links   []Link
	jobs    map[string]*Job
	prefs   map[string]Preferences
	cache   map[string]any
	started time.Time
}

func newDataset(now time.Time) *dataset {
	d := &dataset{
		sites: []Site{
			{Name: "fra", Latitude: 50.11, Longitude: 8.68},
			{Name: "iad", Latitude: 38.95, Longitude: -77.45},
			{Name: "sin", Latitude: 1.35, Longitude: 103.99},
			{Name: "syd", Latitude: -33.94, Longitude: 151.18},
		},
		links: []Link{
			{Source: "fra", Target: "iad", Bytes: 48_318_382_080, Packets: 41_200_113},
			{Source: "iad", Target: "sin", Bytes: 12_884_901_888, Packets: 10_011_502},
			{Source: "sin", Target: "syd", Bytes: 6_442_450_944, Packets: 5_502_871},
			{Source: "fra", Target: "sin", Bytes: 3_221_225_472, Packets: 2_870_444},
		},
		jobs:    make(map[string]*Job),
		prefs:   make(map[string]Preferences),
		cache:   make(map[string]any),
		started: now,
	}
	seed := []struct {
		name, site, status string
		rate, disk         float64
	}{
		{"fra-edge-01", "fra", "online", 912.4, 41.2},
		{"fra-edge-02", "fra", "online", 877.0, 38.9},
		{"iad-core-01", "iad", "online", 2310.7, 72.5},
		{"sin-edge-01", "sin", "degraded", 120.3, 91.8},
		{"syd-edge-01", "syd", "offline", 0, 55.0},
	}
	for _, s := range seed {
		d.sensors = append(d.sensors, Sensor{
			ID:              uuid.NewSHA1(uuid.NameSpaceURL, []byte("sensor:"+s.name)).String(),
			Name:            s.name,
			Site:            s.site,
			Status:          s.status,
			Interfaces:      []string{"eth1", "eth2"},
			CaptureRateMbps: s.rate,
			DiskUsedPct:     s.disk,
			LastSeen:        now.UTC(),
		})
	}
	for i := range d.sites {
		for _, s := range d.sensors {
			if s.Site == d.sites[i].Name {
				d.sites[i].Sensors++
			}
		}
	}
	return d
}

func (d *dataset) listSensors() []Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.cache["sensors"].([]Sensor); ok {
		return slices.Clone(cached)
	}
	out := slices.Clone(d.sensors)
	d.cache["sensors"] = out
	return slices.Clone(out)
}

func (d *dataset) sensor(id string) (Sensor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sensors {
		if s.ID == id || s.Name == id {
			return s, true
		}
	}
	return Sensor{}, false
}

func (d *dataset) topology(now time.Time) TopologyResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.cache["topology"].(TopologyResponse); ok {
		return cached
	}
	t := TopologyResponse{
		Sites:       slices.Clone(d.sites),
		Links:       slices.Clone(d.links),
		GeneratedAt: now.UTC(),
	}
	d.cache["topology"] = t
	return t
}

// clearCache drops every cached response and reports how many were held.
func (d *dataset) clearCache() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.cache)
	clear(d.cache)
	return n
}

func (d *dataset) submitJob(req SubmitJobRequest, owner string, now time.Time) (Job, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Filter = strings.TrimSpace(req.Filter)
	switch {
	case req.Name == "":
		return Job{}, fmt.Errorf("%w: name is required", ErrValidation)
	case req.Filter == "":
		return Job{}, fmt.Errorf("%w: filter is required", ErrValidation)
	case len(req.Filter) > maxFilterLen:
		return Job{}, fmt.Errorf("%w: filter longer than %d characters", ErrValidation, maxFilterLen)
	case len(req.SensorIDs) == 0:
		return Job{}, fmt.Errorf("%w: at least one sensor is required", ErrValidation)
	}
	if req.Start.IsZero() {
		req.Start = now
	}
	if req.End.IsZero() {
		req.End = req.Start.Add(defaultJobDuration)
	}
	if !req.End.After(req.Start) {
		return Job{}, fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	if req.End.Sub(req.Start) > maxJobDuration {
		return Job{}, fmt.Errorf("%w: capture window longer than %s", ErrValidation, maxJobDuration)
	}

	ids := make([]string, 0, len(req.SensorIDs))
	for _, ref := range req.SensorIDs {
		s, ok := d.sensor(ref)
		if !ok {
			return Job{}, fmt.Errorf("%w: unknown sensor %q", ErrValidation, ref)
		}
		ids = append(ids, s.ID)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Filter:    req.Filter,
		SensorIDs: ids,
		Start:     req.Start.UTC(),
		End:       req.End.UTC(),
		Owner:     owner,
		CreatedAt: now.UTC(),
	}
	d.mu.Lock()
	d.jobs[job.ID] = job
	d.mu.Unlock()
	return d.view(job, now), nil
}

// view derives status and captured bytes from the capture window.
// Cancelled and failed jobs keep their status.
func (d *dataset) view(j *Job, now time.Time) Job {
	out := *j
	out.SensorIDs = slices.Clone(j.SensorIDs)
	if out.Status == JobCancelled || out.Status == JobFailed {
		return out
	}
	switch {
	case now.Before(j.Start):
		out.Status = JobQueued
	case now.Before(j.End):
		out.Status = JobRunning
	default:
		out.Status = JobComplete
	}
	until := now
	if until.After(j.End) {
		until = j.End
	}
	out.BytesCaptured = d.capturedBytes(j, until)
	return out
}

func (d *dataset) capturedBytes(j *Job, until time.Time) int64 {
	elapsed := until.Sub(j.Start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	var mbps float64
	for _, id := range j.SensorIDs {
		if s, ok := d.sensor(id); ok && s.Status != "offline" {
			mbps += s.CaptureRateMbps
		}
	}
	// Filters keep a small fraction of line rate.
	return int64(mbps * 1e6 / 8 * elapsed * 0.01)
}

func (d *dataset) job(id string, now time.Time) (Job, error) {
	d.mu.RLock()
	j, ok := d.jobs[id]
	d.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return d.view(j, now), nil
}

// listJobs returns jobs newest first, filtered by status and sensor.
func (d *dataset) listJobs(status, sensor string, now time.Time) []Job {
	d.mu.RLock()
	all := make([]*Job, 0, len(d.jobs))
	for _, j := range d.jobs {
		all = append(all, j)
	}
	d.mu.RUnlock()

	var sensorID string
	if sensor != "" {
		s, ok := d.sensor(sensor)
		if !ok {
			return []Job{}
		}
		sensorID = s.ID
	}

	out := make([]Job, 0, len(all))
	for _, j := range all {
		v := d.view(j, now)
		if status != "" && v.Status != status {
			continue
		}
		if sensorID != "" && !slices.Contains(v.SensorIDs, sensorID) {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// cancelJob stops a queued or running job. Only the owner or an admin may
// cancel.
func (d *dataset) cancelJob(id, username string, admin bool, now time.Time) (Job, error) {
	d.mu.Lock()
	j, ok := d.jobs[id]
	if !ok {
		d.mu.Unlock()
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if !admin && j.Owner != username {
		d.mu.Unlock()
		return Job{}, fmt.Errorf("cancel job %s: %w", id, ErrForbidden)
	}
	d.mu.Unlock()

	current := d.view(j, now)
	if current.Status != JobQueued && current.Status != JobRunning {
		return Job{}, fmt.Errorf("job %s is %s: %w", id, current.Status, ErrJobFinished)
	}

	d.mu.Lock()
	j.Status = JobCancelled
	if now.After(j.Start) {
		j.End = now.UTC()
	}
	j.BytesCaptured = current.BytesCaptured
	d.mu.Unlock()
	out := *j
	out.SensorIDs = slices.Clone(j.SensorIDs)
	return out, nil
}

func (d *dataset) counts() (online, total, running int) {
	d.mu.RLock()
	sensors := slices.Clone(d.sensors)
	jobs := make([]*Job, 0, len(d.jobs))
	for _, j := range d.jobs {
		jobs = append(jobs, j)
	}
	d.mu.RUnlock()

	now := time.Now()
	for _, s := range sensors {
		if s.Status == "online" {
			online++
		}
	}
	for _, j := range jobs {
		if d.view(j, now).Status == JobRunning {
			running++
		}
	}
	return online, len(sensors), running
}

func defaultPreferences() Preferences {
	return Preferences{Theme: "dark", Timezone: "UTC", PageSize: 50, RefreshSeconds: 30}
}

func (d *dataset) preferences(userID string) Preferences {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.prefs[userID]; ok {
		p.DefaultSites = slices.Clone(p.DefaultSites)
		return p
	}
	return defaultPreferences()
}

func (d *dataset) setPreferences(userID string, p Preferences) (Preferences, error) {
	switch {
	case p.Theme != "dark" && p.Theme != "light":
		return Preferences{}, fmt.Errorf("%w: theme must be dark or light", ErrValidation)
	case p.PageSize < 1 || p.PageSize > maxPageLimit:
		return Preferences{}, fmt.Errorf("%w: page_size must be between 1 and %d", ErrValidation, maxPageLimit)
	case p.RefreshSeconds < 5:
		return Preferences{}, fmt.Errorf("%w: refresh_seconds must be at least 5", ErrValidation)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return Preferences{}, fmt.Errorf("%w: unknown timezone %q", ErrValidation, p.Timezone)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, site := range p.DefaultSites {
		if !slices.ContainsFunc(d.sites, func(s Site) bool { return s.Name == site }) {
			return Preferences{}, fmt.Errorf("%w: unknown site %q", ErrValidation, site)
		}
	}
	p.DefaultSites = slices.Clone(p.DefaultSites)
	d.prefs[userID] = p
	return p, nil
}
