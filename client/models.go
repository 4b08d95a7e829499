package client

import "time"

// Health is the backend's aggregate health report.
type Health struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
}

// Sensor status values.
const (
	SensorOnline   = "online"
	SensorDegraded = "degraded"
	SensorOffline  = "offline"
)

// Sensor is a capture node at a site.
type Sensor struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Site            string    `json:"site"`
	Status          string    `json:"status"`
	Interfaces      []string  `json:"interfaces,omitempty"`
	CaptureRateMbps float64   `json:"capture_rate_mbps"`
	DiskUsedPct     float64   `json:"disk_used_pct"`
	LastSeen        time.Time `json:"last_seen"`
}

// Job status values.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobComplete  = "complete"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is a packet-capture job.
type Job struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Filter        string    `json:"filter"`
	SensorIDs     []string  `json:"sensor_ids"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	Owner         string    `json:"owner"`
	BytesCaptured int64     `json:"bytes_captured"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobRequest submits a new capture job. Filter is a BPF expression.
type JobRequest struct {
	Name      string    `json:"name"`
	Filter    string    `json:"filter"`
	SensorIDs []string  `json:"sensor_ids"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// JobFilter narrows ListJobs. Zero fields are ignored.
type JobFilter struct {
	Status string
	Sensor string
	Limit  int
	Offset int
}

// PaginationMeta accompanies paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// JobList is one page of jobs.
type JobList struct {
	Jobs []Job `json:"jobs"`
	PaginationMeta
}

// Site is a collection location placed on the globe.
type Site struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Sensors   int     `json:"sensors"`
}

// Link is observed traffic between two sites.
type Link struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Bytes   int64  `json:"bytes"`
	Packets int64  `json:"packets"`
}

// Topology is the inter-site traffic graph.
type Topology struct {
	Sites       []Site    `json:"sites"`
	Links       []Link    `json:"links"`
	GeneratedAt time.Time `json:"generated_at"`
}

// LogEntry is one backend log line.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// LogQuery narrows Logs. Zero fields are ignored.
type LogQuery struct {
	Level     string
	Component string
	Limit     int
}

// User is a console account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserRequest adds a console account.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CacheClearResult reports what ClearCache evicted.
type CacheClearResult struct {
	Evicted int `json:"evicted"`
}

// Preferences are per-user console settings.
type Preferences struct {
	Theme          string   `json:"theme"`
	Timezone       string   `json:"timezone"`
	PageSize       int      `json:"page_size"`
	RefreshSeconds int      `json:"refresh_seconds"`
	DefaultSites   []string `json:"default_sites,omitempty"`
}
