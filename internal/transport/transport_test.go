package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
)

type stubDriver struct{}

func (stubDriver) Execute(context.Context, string) (*store.Result, error) {
	return &store.Result{
		Columns: []marshal.Column{{Name: "one", Type: "int4"}},
		Rows:    [][]any{{int32(1)}},
	}, nil
}
func (stubDriver) ListTables(context.Context, string) ([]string, error) { return []string{"users"}, nil }
func (stubDriver) Ping(context.Context) error                           { return nil }
func (stubDriver) Close()                                               {}

func newDispatcher(t *testing.T) (*pgmcp.Dispatcher, *pgmcp.PostgresMcp) {
	t.Helper()
	engine, err := pgmcp.New(stubDriver{}, pgmcp.Config{}, zerolog.Nop())
	require.NoError(t, err)
	d, err := pgmcp.NewDispatcher(engine)
	require.NoError(t, err)
	return d, engine
}

func newTestHTTPServer(t *testing.T, config HTTPConfig) (*HTTPServer, *httptest.Server) {
	t.Helper()
	d, engine := newDispatcher(t)
	s := NewHTTPServer(d, engine.NewSession, config, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func post(t *testing.T, url, sessionID, body string) (*http.Response, rpcReply) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var reply rpcReply
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	}
	return resp, reply
}

const (
	initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"t","version":"1"}}}`
	toolsListBody  = `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
)

func TestHTTP_InitializeIssuesSession(t *testing.T) {
	t.Parallel()
	s, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, reply := post(t, ts.URL+"/mcp", "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Nil(t, reply.Error)
	sessionID := resp.Header.Get(SessionHeader)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, 1, s.SessionCount())

	resp, reply = post(t, ts.URL+"/mcp", sessionID, toolsListBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, reply.Error)
	assert.Contains(t, string(reply.Result), `"name":"query"`)
	assert.Equal(t, sessionID, resp.Header.Get(SessionHeader))
}

func TestHTTP_RootPathServesMCP(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, reply := post(t, ts.URL+"/", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{}`, string(reply.Result))
}

func TestHTTP_NoSessionBeforeInitialize(t *testing.T) {
	t.Parallel()
	s, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, reply := post(t, ts.URL+"/mcp", "", toolsListBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32002, reply.Error.Code)
	assert.Empty(t, resp.Header.Get(SessionHeader))
	assert.Zero(t, s.SessionCount())
}

func TestHTTP_UnknownSession(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, _ := post(t, ts.URL+"/mcp", "no-such-session", toolsListBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_NotificationAccepted(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, _ := post(t, ts.URL+"/mcp", "", initializeBody)
	sessionID := resp.Header.Get(SessionHeader)

	resp, _ = post(t, ts.URL+"/mcp", sessionID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHTTP_SessionsAreIndependent(t *testing.T) {
	t.Parallel()
	s, ts := newTestHTTPServer(t, HTTPConfig{})

	first, _ := post(t, ts.URL+"/mcp", "", initializeBody)
	second, _ := post(t, ts.URL+"/mcp", "", initializeBody)
	assert.NotEqual(t, first.Header.Get(SessionHeader), second.Header.Get(SessionHeader))
	assert.Equal(t, 2, s.SessionCount())
}

func TestHTTP_DeleteEndsSession(t *testing.T) {
	t.Parallel()
	s, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, _ := post(t, ts.URL+"/mcp", "", initializeBody)
	sessionID := resp.Header.Get(SessionHeader)

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
		require.NoError(t, err)
		if id != "" {
			req.Header.Set(SessionHeader, id)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, del(""))
	assert.Equal(t, http.StatusNoContent, del(sessionID))
	assert.Zero(t, s.SessionCount())
	assert.Equal(t, http.StatusNotFound, del(sessionID))

	resp, _ = post(t, ts.URL+"/mcp", sessionID, toolsListBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, err := http.Get(ts.URL + "/mcp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, DELETE", resp.Header.Get("Allow"))
}

func TestHTTP_HealthCheck(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{HealthCheckEnabled: true, HealthCheckPath: "/health"})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHTTP_RateLimit(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{RateLimit: 0.001, RateBurst: 1})

	resp, _ := post(t, ts.URL+"/mcp", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = post(t, ts.URL+"/mcp", "", `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHTTP_BodyTooLarge(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{MaxBodyBytes: 16})

	resp, _ := post(t, ts.URL+"/mcp", "", initializeBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHTTP_ParseErrorStillAnswered(t *testing.T) {
	t.Parallel()
	_, ts := newTestHTTPServer(t, HTTPConfig{})

	resp, reply := post(t, ts.URL+"/mcp", "", `{not json`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32700, reply.Error.Code)
}

func TestExpireIdle(t *testing.T) {
	t.Parallel()
	d, engine := newDispatcher(t)
	s := NewHTTPServer(d, engine.NewSession, HTTPConfig{IdleTimeout: time.Minute}, zerolog.Nop())

	stale := engine.NewSession()
	fresh := engine.NewSession()
	s.register(stale)
	s.register(fresh)
	s.lookup(stale.ID()).touch(time.Now().Add(-2 * time.Minute))

	assert.Equal(t, 1, s.expireIdle(time.Now()))
	assert.Nil(t, s.lookup(stale.ID()))
	assert.NotNil(t, s.lookup(fresh.ID()))
}

func TestExpireIdle_Disabled(t *testing.T) {
	t.Parallel()
	d, engine := newDispatcher(t)
	s := NewHTTPServer(d, engine.NewSession, HTTPConfig{}, zerolog.Nop())
	s.register(engine.NewSession())

	assert.Zero(t, s.expireIdle(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, s.SessionCount())
}

func TestServeStdio(t *testing.T) {
	t.Parallel()
	d, engine := newDispatcher(t)
	session := engine.NewSession()

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		initializeBody,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"query","arguments":{"sql":"SELECT 1 AS one"}}}`,
		`garbage`,
	}, "\n")
	var out bytes.Buffer

	err := ServeStdio(context.Background(), d, session, strings.NewReader(in), &out, zerolog.Nop())
	require.NoError(t, err)

	var replies []rpcReply
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r rpcReply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		replies = append(replies, r)
	}
	require.Len(t, replies, 4)

	assert.Equal(t, "1", string(replies[0].ID))
	require.NotNil(t, replies[0].Error)
	assert.Equal(t, -32002, replies[0].Error.Code)

	assert.Equal(t, "1", string(replies[1].ID))
	assert.Nil(t, replies[1].Error)

	assert.Equal(t, "3", string(replies[2].ID))
	require.Nil(t, replies[2].Error)
	assert.Contains(t, string(replies[2].Result), `\"one\":1`)

	assert.Equal(t, "null", string(replies[3].ID))
	require.NotNil(t, replies[3].Error)
	assert.Equal(t, -32700, replies[3].Error.Code)

	assert.True(t, session.Initialized())
}

func TestServeStdio_CancelledContext(t *testing.T) {
	t.Parallel()
	d, engine := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := ServeStdio(ctx, d, engine.NewSession(), strings.NewReader(toolsListBody+"\n"), &out, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}

func TestServeStdio_OversizedLineIsSkipped(t *testing.T) {
	t.Parallel()
	d, engine := newDispatcher(t)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":9,"method":"ping","params":{"pad":"` + strings.Repeat("x", 256) + `"}}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	err := serveLines(context.Background(), d, engine.NewSession(), strings.NewReader(in), &out, 128, zerolog.Nop())
	require.NoError(t, err)

	var replies []rpcReply
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r rpcReply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		replies = append(replies, r)
	}
	require.Len(t, replies, 2)

	assert.Equal(t, "null", string(replies[0].ID))
	require.NotNil(t, replies[0].Error)
	assert.Equal(t, -32600, replies[0].Error.Code)

	assert.Equal(t, "1", string(replies[1].ID))
	assert.Nil(t, replies[1].Error)
}

func TestReadLine_LongerThanReaderBuffer(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 100)
	r := bufio.NewReaderSize(strings.NewReader(long+"\nnext"), 16)

	line, tooLong, err := readLine(r, 1000)
	require.NoError(t, err)
	assert.False(t, tooLong)
	assert.Equal(t, long, string(line))

	line, tooLong, err = readLine(r, 1000)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, tooLong)
	assert.Equal(t, "next", string(line))
}
