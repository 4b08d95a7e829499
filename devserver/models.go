package devserver

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned from POST /login and POST /refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components"`
}

// Sensor is a capture node.
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

// ListSensorsResponse is returned from GET /sensors.
type ListSensorsResponse struct {
	Sensors []Sensor `json:"sensors"`
}

// Job status values. Queued, running and complete are derived from the
// capture window; cancelled and failed are sticky.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobComplete  = "complete"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is a capture job as returned by the API.
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

// SubmitJobRequest is the JSON body for POST /jobs.
type SubmitJobRequest struct {
	Name      string    `json:"name"`
	Filter    string    `json:"filter"`
	SensorIDs []string  `json:"sensor_ids"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// ListJobsResponse is returned from GET /jobs.
type ListJobsResponse struct {
	Jobs []Job `json:"jobs"`
	PaginationMeta
}

// Site is a collection location.
type Site struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Sensors   int     `json:"sensors"`
}

// Link is traffic observed between two sites.
type Link struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Bytes   int64  `json:"bytes"`
	Packets int64  `json:"packets"`
}

// TopologyResponse is returned from GET /network/topology.
type TopologyResponse struct {
	Sites       []Site    `json:"sites"`
	Links       []Link    `json:"links"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CacheClearResponse is returned from POST /admin/cache/clear.
type CacheClearResponse struct {
	Evicted int `json:"evicted"`
}

// LogEntry is one retained server log line.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// LogsResponse is returned from GET /admin/logs.
type LogsResponse struct {
	Entries []LogEntry `json:"entries"`
}

// User is a console account as returned by the API.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserRequest is the JSON body for POST /admin/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ListUsersResponse is returned from GET /admin/users.
type ListUsersResponse struct {
	Users []User `json:"users"`
}

// Preferences are per-user console settings.
type Preferences struct {
	Theme          string   `json:"theme"`
	Timezone       string   `json:"timezone"`
	PageSize       int      `json:"page_size"`
	RefreshSeconds int      `json:"refresh_seconds"`
	DefaultSites   []string `json:"default_sites,omitempty"`
}
