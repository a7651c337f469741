package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess, Action: auth.ActionLogin}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginFailure, Action: auth.ActionLogin}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginFailure, Action: auth.ActionLogin}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventSessionChanged}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ActivityTotal.WithLabelValues(string(auth.ActivityEventLoginSuccess))))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ActivityTotal.WithLabelValues(string(auth.ActivityEventLoginFailure))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ActionsTotal.WithLabelValues("login", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ActionsTotal.WithLabelValues("login", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.ActionsTotal), "events without an action are not counted as actions")
}

func gauge(c *Collector, state string) float64 {
	return testutil.ToFloat64(c.SessionState.WithLabelValues(state))
}

func TestWatchCountsEachSession(t *testing.T) {
	c := NewCollector()
	identity := auth.NewIdentity(&auth.User{ID: "u-1", Email: "a@example.com"}, auth.AdminPolicy{})

	first := make(chan auth.Snapshot)
	second := make(chan auth.Snapshot)
	var wg sync.WaitGroup
	for _, ch := range []chan auth.Snapshot{first, second} {
		wg.Add(1)
		go func(ch chan auth.Snapshot) {
			defer wg.Done()
			c.Watch(ch)
		}(ch)
	}

	first <- auth.Snapshot{Loading: true, StreamHealthy: true}
	second <- auth.Snapshot{Resolved: true, StreamHealthy: true}
	assert.Eventually(t, func() bool {
		return gauge(c, "PENDING") == 1 && gauge(c, "ANONYMOUS") == 1
	}, time.Second, 5*time.Millisecond)

	first <- auth.Snapshot{Identity: identity, Resolved: true, StreamHealthy: true}
	first <- auth.Snapshot{Identity: identity, Resolved: true, StreamHealthy: false}
	assert.Eventually(t, func() bool {
		return gauge(c, "PENDING") == 0 &&
			gauge(c, "AUTHENTICATED") == 1 &&
			gauge(c, "ANONYMOUS") == 1 &&
			testutil.ToFloat64(c.StreamsFailed) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionTransitions), "same state is not a transition")

	close(first)
	close(second)
	wg.Wait()

	assert.Equal(t, 0.0, gauge(c, "AUTHENTICATED"), "closed sessions leave the gauges")
	assert.Equal(t, 0.0, gauge(c, "ANONYMOUS"))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.StreamsFailed))
}

func TestWatch(t *testing.T) {
	c := NewCollector()
	ch := make(chan auth.Snapshot, 3)
	ch <- auth.Snapshot{Loading: true, StreamHealthy: true}
	ch <- auth.Snapshot{Resolved: true}
	ch <- auth.Snapshot{Resolved: true, StreamHealthy: true}
	close(ch)

	c.Watch(ch)
	assert.Equal(t, 0.0, gauge(c, "ANONYMOUS"))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.StreamsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionTransitions))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout, Action: auth.ActionLogout}))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `auth_actions_total{action="logout",outcome="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
