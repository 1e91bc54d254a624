package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetime/internal/storage"
)

// unusedPort points the daemon check at a port nothing listens on.
const unusedPort = 1

func TestStatus_EmptyDB(t *testing.T) {
	store := setupTestStore(t)
	cmd := &StatusCommand{cmdBase: testBase(store, false)}
	cmd.cfg.Daemon.Port = unusedPort

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "pagetime Status")
	assert.Contains(t, output, "Records:       0 (0 open)")
	assert.Contains(t, output, "Retention:     180 days")
	assert.Contains(t, output, "Daemon:        not running")
	assert.NotContains(t, output, "Top Domains")
}

func TestStatus_WithRecords(t *testing.T) {
	store := setupTestStore(t)
	seedVisits(t, store,
		storage.PageVisitRecord{URL: "https://a.com/1", StartTime: 1000, EndTime: 61000, Duration: 60000},
		storage.PageVisitRecord{URL: "https://a.com/2", StartTime: 2000, EndTime: storage.OpenEndTime, Duration: 5000},
		storage.PageVisitRecord{URL: "https://b.com/", StartTime: 3000, EndTime: 4000, Duration: 1000},
	)
	cmd := &StatusCommand{cmdBase: testBase(store, false)}
	cmd.cfg.Daemon.Port = unusedPort

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Records:       3 (1 open)")
	assert.Contains(t, output, "Visible time:  1m 06s")
	assert.Contains(t, output, "Top Domains:")
	assert.Contains(t, output, "a.com")
}

func TestStatus_JSON(t *testing.T) {
	store := setupTestStore(t)
	seedVisits(t, store, storage.PageVisitRecord{URL: "https://a.com/", StartTime: 1000, EndTime: 2000, Duration: 1000})
	cmd := &StatusCommand{cmdBase: testBase(store, true)}
	cmd.cfg.Daemon.Port = unusedPort

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	var got statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "test", got.Version)
	assert.Equal(t, int64(1), got.TotalRecords)
	assert.Equal(t, int64(1000), got.TotalDurationMs)
	assert.False(t, got.DaemonRunning)
	require.Len(t, got.TopDomains, 1)
	assert.Equal(t, "a.com", got.TopDomains[0].Domain)
}

func TestStatus_DaemonRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	store := setupTestStore(t)
	cmd := &StatusCommand{cmdBase: testBase(store, false)}
	cmd.cfg.Daemon.Host = u.Hostname()
	cmd.cfg.Daemon.Port = port

	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})

	assert.Contains(t, output, "Daemon:        running")
}
