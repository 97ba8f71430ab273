// Package model holds the data types shared across the daemon's
// components: projects, tokens, audit entries, the runtime snapshot, jobs,
// and shell sessions. Nothing here owns persistence or behavior — that
// lives in the package that reads and writes each type.
package model

import "time"

// Project is a registered hack-level workspace.
type Project struct {
	ProjectID  string    `json:"projectId"`
	Name       string    `json:"name"`
	RepoRoot   string    `json:"repoRoot"`
	ProjectDir string    `json:"projectDir"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// TokenScope is a bearer token's authorization level.
type TokenScope string

const (
	ScopeRead  TokenScope = "read"
	ScopeWrite TokenScope = "write"
)

// TokenRecord is a persisted gateway bearer token. The cleartext secret is
// never stored; Hash is sha256(secret) hex-encoded.
type TokenRecord struct {
	ID         string     `json:"id"`
	Hash       string     `json:"hash"`
	Scope      TokenScope `json:"scope"`
	Label      string     `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Revoked reports whether the record is inert.
func (t *TokenRecord) Revoked() bool {
	return t.RevokedAt != nil
}

// AuditEntry is one gateway request record.
type AuditEntry struct {
	Ts            time.Time `json:"ts"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Status        int       `json:"status"`
	TokenID       string    `json:"tokenId,omitempty"`
	RemoteAddress string    `json:"remoteAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
}

// PortBinding describes a published container port.
type PortBinding struct {
	HostIP        string `json:"hostIp,omitempty"`
	HostPort      int    `json:"hostPort,omitempty"`
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

// RuntimeContainer is one observed container.
type RuntimeContainer struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	State  string        `json:"state"`
	Status string        `json:"status"`
	Ports  []PortBinding `json:"ports,omitempty"`
}

// RuntimeServiceContainers is the observed set of containers for one
// compose service.
type RuntimeServiceContainers struct {
	Containers []RuntimeContainer `json:"containers"`
}

// RuntimeProject is one observed compose deployment.
type RuntimeProject struct {
	ComposeProjectName string                              `json:"composeProjectName"`
	WorkingDir         string                              `json:"workingDir,omitempty"`
	IsGlobal           bool                                `json:"isGlobal"`
	Services           map[string]RuntimeServiceContainers `json:"services"`
}

// RuntimeSnapshot is the immutable, fully-replaced view of Docker state.
type RuntimeSnapshot struct {
	UpdatedAtMs int64             `json:"updatedAtMs"`
	Projects    []RuntimeProject  `json:"projects"`
}

// JobStatus is a job's lifecycle state.
type JobStatus string

const (
	JobQueued        JobStatus = "queued"
	JobStarting      JobStatus = "starting"
	JobRunning       JobStatus = "running"
	JobCompleted     JobStatus = "completed"
	JobFailed        JobStatus = "failed"
	JobCancelled     JobStatus = "cancelled"
	JobAwaitingInput JobStatus = "awaiting_input" // reserved; no runner emits this today
)

// JobMeta is a job's persisted metadata (meta.json).
type JobMeta struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	Runner       string    `json:"runner"`
	Command      []string  `json:"command"`
	ProjectID    string    `json:"projectId,omitempty"`
	ProjectName  string    `json:"projectName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastEventSeq int64     `json:"lastEventSeq"`
}

// JobEvent is one line of events.jsonl.
type JobEvent struct {
	Seq     int64          `json:"seq"`
	Ts      time.Time      `json:"ts"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ShellStatus is a shell session's lifecycle state.
type ShellStatus string

const (
	ShellRunning ShellStatus = "running"
	ShellExited  ShellStatus = "exited"
)

// ShellMeta is an in-memory shell session's metadata.
type ShellMeta struct {
	ShellID     string      `json:"shellId"`
	Status      ShellStatus `json:"status"`
	ProjectID   string      `json:"projectId,omitempty"`
	ProjectName string      `json:"projectName,omitempty"`
	Cwd         string      `json:"cwd"`
	Shell       string      `json:"shell"`
	Cols        int         `json:"cols"`
	Rows        int         `json:"rows"`
	Pid         int         `json:"pid,omitempty"`
	ExitCode    *int        `json:"exitCode,omitempty"`
	Signal      *string     `json:"signal"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
