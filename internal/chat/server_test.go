package chat

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var welcomeGuestRe = regexp.MustCompile(`^Welcome, (Guest\d{4})!$`)

func TestServer_GuestWorldScenario(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	a := dial(t, srv)
	nameA := a.guest()
	b := dial(t, srv)
	nameB := b.guest()
	require.NotEqual(t, nameA, nameB)

	a.send("WORLD hello")
	assert.Equal(t, "[world] "+nameA+": hello", b.next())

	// The next thing a sees is its own notice, not an echo of the broadcast.
	a.send("PING")
	assert.Equal(t, NoticeUnknown, a.next())
}

func TestServer_GroupScenario(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	a := dial(t, srv)
	a.register("A")
	b := dial(t, srv)
	b.register("B")

	a.send("CREATEGROUP team")
	assert.Equal(t, "Created and joined group: team", a.next())
	b.send("JOINGROUP team")
	assert.Equal(t, "Joined group: team", b.next())

	a.send("GROUP team hi")
	assert.Equal(t, "[group team] A: hi", b.next())

	a.send("PING")
	assert.Equal(t, NoticeUnknown, a.next())
}

func TestServer_DuplicateRegisterClosesConnection(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	a := dial(t, srv)
	a.register("alice")

	dup := dial(t, srv)
	dup.expect(PromptOnboarding)
	dup.send("REGISTER alice other")
	assert.Equal(t, NoticeNameTaken, dup.next())
	dup.expectClosed()

	assert.Equal(t, []string{"alice"}, srv.Registry().Users())
	a.send("PING")
	assert.Equal(t, NoticeUnknown, a.next())
}

func TestServer_InvalidOnboardingClosesConnection(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	tests := []struct {
		line   string
		notice string
	}{
		{line: "HELLO", notice: NoticeInvalid},
		{line: "REGISTER onlyname", notice: NoticeInvalid},
		{line: "", notice: NoticeNoCommand},
	}
	for _, tt := range tests {
		c := dial(t, srv)
		c.expect(PromptOnboarding)
		c.send(tt.line)
		assert.Equal(t, tt.notice, c.next())
		c.expectClosed()
	}
	assert.Empty(t, srv.Registry().Users())
}

func TestServer_BlankLinesAndUsageErrorsKeepSessionOpen(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	a := dial(t, srv)
	a.register("alice")

	a.send("")
	a.send("   ")
	a.send("private bob")
	assert.Equal(t, UsagePrivate, a.next())
	a.send("GROUP team")
	assert.Equal(t, UsageGroup, a.next())
	a.send("world")
	assert.Equal(t, UsageWorld, a.next())
	a.send("PRIVATE bob hi")
	assert.Equal(t, "User bob does not exist or is not online.", a.next())
}

func TestServer_DisconnectRemovesUser(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	a := dial(t, srv)
	a.register("A")
	b := dial(t, srv)
	b.register("B")

	a.send("PRIVATE B are you there")
	assert.Equal(t, "[private] A: are you there", b.next())

	require.NoError(t, b.conn.Close())
	require.Eventually(t, func() bool {
		_, ok := srv.Registry().Lookup("B")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	a.send("PRIVATE B hello?")
	assert.Equal(t, "User B does not exist or is not online.", a.next())

	// The name is free again.
	c := dial(t, srv)
	c.register("B")
}

func TestServer_RateLimitedCommandsAreRejected(t *testing.T) {
	srv := startServer(t, ServerConfig{Session: SessionOptions{RateLimit: 0.01, RateBurst: 1}})

	a := dial(t, srv)
	a.register("alice")

	a.send("PING")
	assert.Equal(t, NoticeUnknown, a.next())
	a.send("PING")
	assert.Equal(t, NoticeSlowDown, a.next())
}

func TestServer_StopClosesSessions(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, discardLogger())
	require.NoError(t, srv.Start())

	a := dial(t, srv)
	a.register("alice")

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	a.expectClosed()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	before := testutil.ToFloat64(ConnectionsTotal)
	srv := startServer(t, ServerConfig{MetricsAddr: "127.0.0.1:0"})

	a := dial(t, srv)
	a.register("alice")
	assert.Equal(t, before+1, testutil.ToFloat64(ConnectionsTotal))

	base := "http://" + srv.MetricsAddr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "chat_connected_clients")
	assert.Contains(t, string(body), "chat_onboarding_total")
}

func TestServer_StartFailsOnBusyAddress(t *testing.T) {
	srv := startServer(t, ServerConfig{})

	other := NewServer(ServerConfig{Addr: srv.Addr().String()}, discardLogger())
	require.Error(t, other.Start())
	other.Stop()
}

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Session.FlushTimeout == 0 {
		cfg.Session.FlushTimeout = time.Second
	}
	srv := NewServer(cfg, discardLogger())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testConn) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *testConn) next() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err, "waiting for a line")
	return strings.TrimRight(line, "\r\n")
}

func (c *testConn) expect(line string) {
	c.t.Helper()
	require.Equal(c.t, line, c.next())
}

func (c *testConn) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.reader.ReadString('\n')
	require.Error(c.t, err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.t.Fatal("connection was not closed by the server")
	}
}

func (c *testConn) guest() string {
	c.t.Helper()
	c.expect(PromptOnboarding)
	c.send("GUEST")
	m := welcomeGuestRe.FindStringSubmatch(c.next())
	require.NotNil(c.t, m, "unexpected guest welcome")
	c.expect(NoticeWorldJoined)
	return m[1]
}

func (c *testConn) register(name string) {
	c.t.Helper()
	c.expect(PromptOnboarding)
	c.send("REGISTER " + name + " pw")
	c.expect("Registration successful, welcome, " + name + "!")
	c.expect(NoticeWorldJoined)
}
