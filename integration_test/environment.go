package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/audit"
	"smsrelay/internal/database"
	"smsrelay/internal/dispatch"
	"smsrelay/internal/models"
	"smsrelay/internal/pebblestore"
	"smsrelay/internal/queue"
	"smsrelay/internal/retry"
	"smsrelay/internal/service"
	"smsrelay/internal/settings"
)

const testEncryptionSecret = "integration-secret-key-with-32-plus-chars"

// Backend selects the durable store behind the queue.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendPebble Backend = "pebble"
)

type store interface {
	queue.Store
	audit.Store
	Close() error
}

// FakeEndpoint is an HTTP endpoint answering from a status script. The last
// status repeats once the script is exhausted.
type FakeEndpoint struct {
	Name   string
	Key    string
	server *httptest.Server

	mu       sync.Mutex
	statuses []int
	payloads []dispatch.Payload
	headers  []string
}

func newFakeEndpoint(t *testing.T, name string, statuses ...int) *FakeEndpoint {
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	ep := &FakeEndpoint{Name: name, Key: "key-" + name, statuses: statuses}
	ep.server = httptest.NewServer(http.HandlerFunc(ep.serve))
	t.Cleanup(ep.server.Close)
	return ep
}

func (ep *FakeEndpoint) serve(w http.ResponseWriter, r *http.Request) {
	var payload dispatch.Payload
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &payload)

	ep.mu.Lock()
	status := ep.statuses[0]
	if len(ep.statuses) > 1 {
		ep.statuses = ep.statuses[1:]
	}
	ep.payloads = append(ep.payloads, payload)
	ep.headers = append(ep.headers, r.Header.Get(models.DefaultAuthHeaderName))
	ep.mu.Unlock()

	w.WriteHeader(status)
}

// URL is the endpoint address.
func (ep *FakeEndpoint) URL() string {
	return ep.server.URL
}

// Hits is the number of requests received.
func (ep *FakeEndpoint) Hits() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.payloads)
}

// Payloads returns the decoded request bodies.
func (ep *FakeEndpoint) Payloads() []dispatch.Payload {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]dispatch.Payload(nil), ep.payloads...)
}

// AuthHeaders returns the credential header of every request.
func (ep *FakeEndpoint) AuthHeaders() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]string(nil), ep.headers...)
}

// TestEnvironment runs the whole forwarding pipeline against a real store in
// a temp directory and fake HTTP endpoints.
type TestEnvironment struct {
	t            *testing.T
	dir          string
	backend      Backend
	logger       *logrus.Logger
	encryptor    *database.Encryptor
	maxAttempts  int
	settingsPath string

	offline atomic.Bool

	Endpoints []*FakeEndpoint

	store    store
	Trail    *audit.Trail
	Settings *settings.Watcher
	Queue    *queue.Queue
	Monitor  *service.NetworkMonitor
	Engine   *service.Engine
}

// NewTestEnvironment writes forwarding settings for endpoints and starts an
// engine on the given backend.
func NewTestEnvironment(t *testing.T, backend Backend, filter string, endpoints ...*FakeEndpoint) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	encryptor, err := database.NewEncryptor(models.EncryptionConfig{Enabled: true, Secret: testEncryptionSecret})
	require.NoError(t, err)

	env := &TestEnvironment{
		t:            t,
		dir:          t.TempDir(),
		backend:      backend,
		logger:       logger,
		encryptor:    encryptor,
		maxAttempts:  3,
		Endpoints:    endpoints,
		settingsPath: "",
	}
	env.settingsPath = filepath.Join(env.dir, "settings.json")
	env.writeSettings(filter)

	env.start()
	t.Cleanup(env.shutdown)
	return env
}

func (env *TestEnvironment) writeSettings(filter string) {
	type endpointRecord struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		URL    string `json:"url"`
		APIKey string `json:"apiKey"`
		Active bool   `json:"active"`
	}
	records := make([]endpointRecord, 0, len(env.Endpoints))
	for i, ep := range env.Endpoints {
		records = append(records, endpointRecord{
			ID:     fmt.Sprint(i + 1),
			Name:   ep.Name,
			URL:    ep.URL(),
			APIKey: ep.Key,
			Active: true,
		})
	}
	endpoints, err := json.Marshal(records)
	require.NoError(env.t, err)

	raw := fmt.Sprintf(`{"version":2,"filter":%s,"endpoints":%s}`, filter, endpoints)
	require.NoError(env.t, os.WriteFile(env.settingsPath, []byte(raw), 0600))
}

func (env *TestEnvironment) openStore() store {
	switch env.backend {
	case BackendPebble:
		s, err := pebblestore.Open(filepath.Join(env.dir, "journal"), env.encryptor)
		require.NoError(env.t, err)
		return s
	default:
		db, err := database.New(context.Background(), filepath.Join(env.dir, "queue.db"), env.encryptor)
		require.NoError(env.t, err)
		return db
	}
}

func (env *TestEnvironment) start() {
	t := env.t
	env.store = env.openStore()

	env.Trail = audit.New(audit.Options{Capacity: 200, Store: env.store, Logger: env.logger})
	require.NoError(t, env.Trail.Load(context.Background()))

	provider, err := settings.NewFileProvider(env.settingsPath)
	require.NoError(t, err)
	env.Settings = settings.NewWatcher(provider, env.logger, env.Trail, 50*time.Millisecond)

	env.Monitor = service.NewNetworkMonitor(models.NetworkConfig{CheckIntervalSec: 3600}, func(context.Context) error {
		if env.offline.Load() {
			return errors.New("network unreachable")
		}
		return nil
	}, env.logger)
	env.Monitor.Check(context.Background())

	env.Queue = queue.New(env.store, queue.Options{
		MaxAttempts: env.maxAttempts,
		Backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  env.maxAttempts,
		}),
		Audit:        env.Trail,
		Logger:       env.logger,
		Connectivity: env.Monitor,
	})

	env.Engine, err = service.NewEngine(service.EngineDeps{
		Config:     models.QueueConfig{Workers: 2, ScanIntervalSec: 1},
		Queue:      env.Queue,
		Dispatcher: dispatch.NewDispatcher(models.DeliveryConfig{TimeoutSec: 2}, nil, env.logger),
		Settings:   env.Settings,
		Audit:      env.Trail,
		Monitor:    env.Monitor,
		Logger:     env.logger,
	})
	require.NoError(t, err)
	require.NoError(t, env.Engine.Start(context.Background()))
}

func (env *TestEnvironment) shutdown() {
	if env.Engine == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = env.Engine.Stop(ctx)
	env.Trail.Close()
	_ = env.store.Close()
	env.Engine = nil
}

// Restart stops the engine, closes the store and brings everything back up
// from disk.
func (env *TestEnvironment) Restart() {
	env.shutdown()
	env.start()
}

// SetOffline flips the simulated connectivity and re-probes.
func (env *TestEnvironment) SetOffline(offline bool) {
	env.offline.Store(offline)
	env.Monitor.Check(context.Background())
}

// Receive runs one reception through the engine.
func (env *TestEnvironment) Receive(sender string, receivedAt time.Time, parts ...string) service.Outcome {
	env.t.Helper()
	fragments := make([]models.Fragment, 0, len(parts))
	for _, p := range parts {
		fragments = append(fragments, models.Fragment{OriginatingAddress: sender, MessageBody: p})
	}
	outcome, err := env.Engine.HandleReception(context.Background(), fragments, receivedAt)
	require.NoError(env.t, err)
	return outcome
}

// WaitForStatus wakes the queue until count items are in status.
func (env *TestEnvironment) WaitForStatus(status models.WorkStatus, count int) {
	env.t.Helper()
	require.Eventually(env.t, func() bool {
		env.Queue.Wake()
		stats, err := env.Engine.Stats(context.Background())
		return err == nil && stats[status] == count
	}, 5*time.Second, 20*time.Millisecond, "waiting for %d %s items", count, status)
}

// WorkItem loads a work item straight from the store.
func (env *TestEnvironment) WorkItem(workID string) *models.WorkItem {
	env.t.Helper()
	item, err := env.store.GetWorkItem(context.Background(), workID)
	require.NoError(env.t, err)
	return item
}
