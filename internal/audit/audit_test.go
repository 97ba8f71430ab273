package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hack-dance/hackd/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSanitizePathStripsToken(t *testing.T) {
	got := SanitizePath("/v1/status?token=secret&other=1")
	require.NotContains(t, got, "secret")
	require.Contains(t, got, "other=1")
}

func TestRecordAppendsOneLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := New(path)

	l.Record(model.AuditEntry{Method: "GET", Path: "/v1/status?access_token=xyz", Status: 200})
	l.Record(model.AuditEntry{Method: "GET", Path: "/v1/ps", Status: 404})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var entries []model.AuditEntry
	for scanner.Scan() {
		var e model.AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	require.NotContains(t, entries[0].Path, "xyz")
	require.Equal(t, 404, entries[1].Status)
}
