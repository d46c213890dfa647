package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/api/rest"
	"github.com/kasuganosora/partystash/api/sse"
	"github.com/kasuganosora/partystash/audit"
	"github.com/kasuganosora/partystash/cache"
	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/ledger"
	mw "github.com/kasuganosora/partystash/middleware"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/realtime"
	"github.com/kasuganosora/partystash/stash"
	"github.com/kasuganosora/partystash/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const secret = "integration-test-secret"

// Backend is the shared state behind every server instance: one database,
// one lock table and one pub/sub bus.
type Backend struct {
	DB     *gorm.DB
	Locks  cache.Locker
	PubSub cache.PubSub
}

// NewBackend creates an in-memory backend.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	return &Backend{DB: testutil.SetupTestDB(t), Locks: c, PubSub: ps}
}

// TestServer is one fully wired server instance. Several instances on the
// same Backend behave like a horizontally scaled deployment.
type TestServer struct {
	*Backend
	Sessions *stash.Manager
	Audit    *audit.Service
	Server   *httptest.Server
	URL      string
}

// NewTestServer wires a server the way main.go does.
func NewTestServer(t *testing.T, b *Backend) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	feed := realtime.NewFeed(b.PubSub, logger)
	ledgerSvc := ledger.NewService(b.DB, b.Locks, feed, ledger.Options{}, logger)
	catalogSvc := catalog.NewService(b.DB, logger)
	auditSvc := audit.New(b.DB, audit.Options{FlushInterval: 10 * time.Millisecond}, logger)
	sessions := stash.NewManager(stash.Deps{
		Remote:  ledgerSvc,
		Catalog: catalogSvc,
		Feed:    feed,
		Logger:  logger,
	}, stash.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(1000), 2000))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	rest.Register(r.Group("/api"), rest.Handlers{
		Stash:     rest.NewStashHandler(sessions, catalogSvc, ledgerSvc.Log(), auditSvc, logger),
		Catalog:   rest.NewCatalogHandler(catalogSvc),
		Character: rest.NewCharacterHandler(ledgerSvc),
		Events:    sse.NewHandler(feed, nil, logger).ServeSSE,
	}, mw.Auth(secret))

	server := httptest.NewServer(r)
	ts := &TestServer{Backend: b, Sessions: sessions, Audit: auditSvc, Server: server, URL: server.URL}
	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
		sessions.Shutdown()
		auditSvc.Stop(context.Background())
		cancel()
	})
	return ts
}

// --- HTTP helpers ---

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Drain closes a response whose body is not needed and returns its status.
func Drain(resp *http.Response) int {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode
}

// StashView is the JSON shape of a stash snapshot.
type StashView struct {
	Entries []model.StashEntry `json:"entries"`
	Logs    []model.StashLog   `json:"logs"`
	State   string             `json:"state"`
}

// Quantity returns the quantity of the named entry, 0 when absent.
func (v StashView) Quantity(name string) int {
	for _, e := range v.Entries {
		if e.Name == name {
			return e.Quantity
		}
	}
	return 0
}

// EntryID returns the id of the named entry.
func (v StashView) EntryID(t *testing.T, name string) int64 {
	t.Helper()
	for _, e := range v.Entries {
		if e.Name == name {
			return e.ID
		}
	}
	t.Fatalf("stash has no %q", name)
	return 0
}

// Stash fetches the party's stash as seen by this instance.
func (ts *TestServer) Stash(t *testing.T, partyID int64, token string) StashView {
	t.Helper()
	resp := ts.Get(t, partyPath(partyID, "/stash"), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v StashView
	ReadJSON(t, resp, &v)
	return v
}

func partyPath(partyID int64, suffix string) string {
	return "/api/parties/" + strconv.FormatInt(partyID, 10) + suffix
}

// --- Auth helpers ---

// Token issues a token for the given identity.
func Token(t *testing.T, partyID, characterID int64, role string) string {
	t.Helper()
	tok, err := mw.GenerateToken(mw.Claims{PartyID: partyID, CharacterID: characterID, Role: role}, secret, time.Hour)
	require.NoError(t, err)
	return tok
}

// CreateCharacter inserts a character carrying eq.
func (b *Backend) CreateCharacter(t *testing.T, partyID int64, name string, eq model.Equipment) *model.Character {
	t.Helper()
	c := &model.Character{PartyID: partyID, Name: name}
	c.SetGear(eq)
	require.NoError(t, b.DB.Create(c).Error)
	return c
}

// Character reloads a character from the database.
func (b *Backend) Character(t *testing.T, id int64) *model.Character {
	t.Helper()
	var c model.Character
	require.NoError(t, b.DB.First(&c, id).Error)
	return &c
}

// --- SSE client ---

// EventClient reads a server-sent event stream. A background readLoop feeds
// parsed events into a buffered channel.
type EventClient struct {
	resp   *http.Response
	events chan string
	closed atomic.Bool
}

// OpenEvents subscribes to a party's change feed, passing the token in the
// query string the way a browser EventSource would.
func (ts *TestServer) OpenEvents(t *testing.T, partyID int64, token string) *EventClient {
	t.Helper()
	resp, err := http.Get(ts.URL + partyPath(partyID, "/events") + "?token=" + token)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ec := &EventClient{resp: resp, events: make(chan string, 64)}
	go ec.readLoop()
	t.Cleanup(ec.Close)
	return ec
}

func (ec *EventClient) readLoop() {
	defer close(ec.events)
	sc := bufio.NewScanner(ec.resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
			ec.events <- strings.TrimSpace(name)
		}
	}
}

// RecvType waits for an event with the given name, skipping others.
func (ec *EventClient) RecvType(t *testing.T, name string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ec.events:
			require.True(t, ok, "event stream closed while waiting for %q", name)
			if ev == name {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", name)
		}
	}
}

// Close ends the stream.
func (ec *EventClient) Close() {
	if ec.closed.CompareAndSwap(false, true) {
		ec.resp.Body.Close()
	}
}
