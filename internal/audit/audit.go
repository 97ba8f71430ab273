// Package audit implements the append-only JSONL sink for gateway
// requests (spec.md section 4.4). Grounded on the teacher's
// pkg/events/events.go discipline of stamping a timestamp at write time,
// re-expressed as file appends instead of channel fan-out since the spec
// requires a durable, grep-able log rather than live subscription.
package audit

import (
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hack-dance/hackd/internal/model"
	"github.com/hack-dance/hackd/pkg/log"
)

var sensitiveQueryParams = map[string]bool{
	"token":        true,
	"access_token": true,
}

// SanitizePath strips token/access_token query parameters from a request
// path before it is recorded.
func SanitizePath(rawPath string) string {
	u, err := url.Parse(rawPath)
	if err != nil {
		return rawPath
	}
	q := u.Query()
	changed := false
	for param := range sensitiveQueryParams {
		if q.Has(param) {
			q.Del(param)
			changed = true
		}
	}
	if !changed {
		return rawPath
	}
	u.RawQuery = q.Encode()
	return strings.TrimSuffix(u.String(), "?")
}

// Log appends one AuditEntry per gateway request. Append failures are
// swallowed per spec.md section 7 ("audit must not block request
// handling") — they are logged but never surfaced to callers. No count of
// failed appends is kept.
type Log struct {
	path string
	mu   sync.Mutex
}

// New creates a Log backed by path.
func New(path string) *Log {
	return &Log{path: path}
}

// Record appends one entry, sanitizing its path first.
func (l *Log) Record(entry model.AuditEntry) {
	entry.Path = SanitizePath(entry.Path)
	if entry.Ts.IsZero() {
		entry.Ts = time.Now()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("audit: failed to marshal entry")
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("audit: failed to open log for append")
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		log.Logger.Warn().Err(err).Msg("audit: failed to append entry")
	}
}
