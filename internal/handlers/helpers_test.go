package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"

	"github.com/eNMS-automation/eNMS-sub001/internal/auth"
	"github.com/eNMS-automation/eNMS-sub001/internal/crypto"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/metrics"
	"github.com/eNMS-automation/eNMS-sub001/internal/middleware"
	"github.com/eNMS-automation/eNMS-sub001/internal/sshterminal"
	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

// echoShell answers every input with "echo:<input>".
type echoShell struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	mu     sync.Mutex
	inputs []string
	closed bool
}

func newEchoShell() *echoShell {
	r, w := io.Pipe()
	return &echoShell{outR: r, outW: w}
}

func (s *echoShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.inputs = append(s.inputs, string(p))
	s.mu.Unlock()
	if _, err := s.outW.Write([]byte("echo:" + string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *echoShell) Output() io.Reader { return s.outR }

func (s *echoShell) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.outW.Close()
}

func (s *echoShell) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

func (s *echoShell) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeOpener struct {
	// When gate is set, OpenShell signals entered and then blocks until
	// gate is closed.
	gate    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	banner  string
	err     error
	shells  []*echoShell
	targets []sshterminal.Target
}

// block makes the next OpenShell calls wait for the returned release func.
// The returned release is safe to call more than once and runs again on
// test cleanup.
func (o *fakeOpener) block(t *testing.T) (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	o.mu.Lock()
	o.gate, o.entered = gate, ch
	o.mu.Unlock()
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return ch, release
}

func (o *fakeOpener) OpenShell(ctx context.Context, t sshterminal.Target) (sshterminal.Shell, error) {
	o.mu.Lock()
	gate, entered := o.gate, o.entered
	o.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.targets = append(o.targets, t)
	if o.err != nil {
		return nil, o.err
	}
	sh := newEchoShell()
	o.shells = append(o.shells, sh)
	if o.banner != "" {
		go sh.outW.Write([]byte(o.banner))
	}
	return sh, nil
}

func (o *fakeOpener) shell(t *testing.T, i int) *echoShell {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.Greater(t, len(o.shells), i, "shell %d not opened", i)
	return o.shells[i]
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.shells)
}

// adminSID is the login cookie of the admin user created by setupTest.
var adminSID string

// setupTest installs an in-memory database with one admin user, a fresh
// session manager and a fake shell opener.
func setupTest(t *testing.T) *fakeOpener {
	t.Helper()
	db, err := database.Open(":memory:", logger.Silent)
	require.NoError(t, err)

	prevDB, prevMgr, prevOpener, prevMetrics := database.DB, TermSessionMgr, ShellOpener, Metrics
	prevStore, prevOrigins, prevCost := SessionStore, AllowedOrigins, auth.BcryptCost
	database.DB = db
	crypto.ResetKeyCache()
	TermSessionMgr = sshterminal.NewSessionManager(nil)
	TermSessionMgr.OnClose = OnShellClosed
	opener := &fakeOpener{}
	ShellOpener = opener
	Metrics = metrics.New()
	SessionStore = auth.NewSessionStore()
	AllowedOrigins = nil
	auth.BcryptCost = bcrypt.MinCost

	t.Cleanup(func() {
		TermSessionMgr.CloseAll()
		database.DB, TermSessionMgr, ShellOpener, Metrics = prevDB, prevMgr, prevOpener, prevMetrics
		SessionStore, AllowedOrigins, auth.BcryptCost = prevStore, prevOrigins, prevCost
		crypto.ResetKeyCache()
	})

	admin := createUser(t, "admin", "admin-pass", database.RoleAdmin)
	adminSID = login(t, admin)
	return opener
}

func createUser(t *testing.T, username, password, role string) *database.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := &database.User{Username: username, PasswordHash: hash, Role: role}
	require.NoError(t, database.CreateUser(u))
	return u
}

func login(t *testing.T, u *database.User) string {
	t.Helper()
	sid, err := SessionStore.Create(u.ID)
	require.NoError(t, err)
	return sid
}

// newTestServer serves the same routes as the enms-server router.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Get(wire.TerminalPath, TerminalWSProxy)
	r.With(chimw.AllowContentType("application/json"), middleware.RequireSession).Post(wire.ShutdownPath, Shutdown)
	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.AllowContentType("application/json"))
		r.Post("/auth/login", Login)
		r.Post("/auth/logout", Logout)
		r.Get("/auth/setup-required", SetupRequired)
		r.Post("/auth/setup", SetupCreateAdmin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(SessionStore))
			r.Get("/auth/me", GetCurrentUser)
			r.Post("/sessions", CreateSession)
			r.Get("/sessions", ListSessions)
			r.Get("/sessions/{token}", GetSession)
			r.Delete("/sessions/{token}", CloseSession)
			r.Get("/devices", ListDevices)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/devices", CreateDevice)
				r.Get("/logs", GetServerLogs)
			})
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func createDeviceAndSession(t *testing.T, protocol string) (*database.Device, *database.TerminalSession) {
	t.Helper()
	password, err := crypto.Encrypt("secret")
	require.NoError(t, err)
	d := &database.Device{Name: "router-" + protocol, Host: "10.0.0.1", Username: "admin", Password: password, Protocol: protocol}
	require.NoError(t, database.CreateDevice(d))
	s, err := database.CreateSession(d.ID)
	require.NoError(t, err)
	return d, s
}

func dialTerminal(t *testing.T, srv *httptest.Server, session, device string) *websocket.Conn {
	t.Helper()
	u, err := wire.TerminalURL(srv.URL, session, device)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readOutputUntil concatenates output messages until want appears.
func readOutputUntil(t *testing.T, conn *websocket.Conn, want string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var sb strings.Builder
	for !strings.Contains(sb.String(), want) {
		var msg wire.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("reading output (have %q, want %q): %v", sb.String(), want, err)
		}
		if msg.Type == wire.TypeOutput {
			sb.WriteString(msg.Data)
		}
	}
	return sb.String()
}

func readCloseStatus(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func sendInput(t *testing.T, conn *websocket.Conn, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, wsjson.Write(context.Background(), conn, wire.Input(k)))
	}
}

// doJSON sends a JSON request as the admin user.
func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	return doJSONAs(t, adminSID, method, url, body)
}

// doJSONAs sends a JSON request with the login cookie sid, or without a
// cookie when sid is empty.
func doJSONAs(t *testing.T, sid, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: sid})
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
