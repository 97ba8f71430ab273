package dockerevents

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatcherDeliversParsedEvents(t *testing.T) {
	var mu sync.Mutex
	var got []Event

	script := `echo '{"Type":"container","Action":"start","Actor":{"ID":"abc","Attributes":{"name":"demo"}}}'`
	w := New(zerolog.Nop(), func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, "/bin/sh", []string{"-c", script})

	w.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "container", got[0].Type)
	require.Equal(t, "start", got[0].Action)
	require.Equal(t, "demo", got[0].Actor.Attributes["name"])
}

func TestBackoffDelayIsBoundedBy2000ms(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		require.LessOrEqual(t, backoffDelay(attempt), maxBackoff)
	}
}
