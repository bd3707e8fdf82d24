package pgmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-mcp-gateway/internal/jsonrpc"
	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
)

// fakeDriver is an in-memory store.Driver that records every call.
type fakeDriver struct {
	mu sync.Mutex

	tables  map[string]*store.Result
	results map[string]*store.Result
	execErr error
	listErr error

	executed  []string
	listCalls int
}

var _ store.Driver = (*fakeDriver)(nil)

var tableReadPattern = regexp.MustCompile(`^SELECT \* FROM "([^"]+)" LIMIT (\d+)$`)

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		tables:  make(map[string]*store.Result),
		results: make(map[string]*store.Result),
	}
}

func (f *fakeDriver) Execute(ctx context.Context, sql string) (*store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, sql)

	if f.execErr != nil {
		return nil, f.execErr
	}
	if r, ok := f.results[sql]; ok {
		return r, nil
	}
	if m := tableReadPattern.FindStringSubmatch(sql); m != nil {
		table, ok := f.tables[m[1]]
		if !ok {
			return nil, &pgconn.PgError{
				Severity: "ERROR",
				Code:     "42P01",
				Message:  fmt.Sprintf("relation %q does not exist", m[1]),
			}
		}
		limit, _ := strconv.Atoi(m[2])
		rows := table.Rows
		if len(rows) > limit {
			rows = rows[:limit]
		}
		return &store.Result{Columns: table.Columns, Rows: rows}, nil
	}
	return &store.Result{Columns: []marshal.Column{}, Rows: [][]any{}}, nil
}

func (f *fakeDriver) ListTables(ctx context.Context, schema string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeDriver) Ping(ctx context.Context) error { return nil }

func (f *fakeDriver) Close() {}

func (f *fakeDriver) executedSQL() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeDriver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed) + f.listCalls
}

// addUsersTable adds a users table with n rows of (id int4, name text, email text).
func (f *fakeDriver) addUsersTable(n int) {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int32(i + 1), fmt.Sprintf("user%d", i+1), fmt.Sprintf("user%d@example.com", i+1)}
	}
	f.tables["users"] = &store.Result{
		Columns: []marshal.Column{
			{Name: "id", Type: "int4"},
			{Name: "name", Type: "text"},
			{Name: "email", Type: "varchar"},
		},
		Rows: rows,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func newTestEngine(t *testing.T, driver store.Driver, config Config) *PostgresMcp {
	t.Helper()
	p, err := New(driver, config, testLogger())
	if err != nil {
		t.Fatalf("failed to create PostgresMcp: %v", err)
	}
	return p
}

func newTestDispatcher(t *testing.T, driver store.Driver, config Config) (*Dispatcher, *PostgresMcp) {
	t.Helper()
	p := newTestEngine(t, driver, config)
	d, err := NewDispatcher(p)
	if err != nil {
		t.Fatalf("failed to create Dispatcher: %v", err)
	}
	return d, p
}

// rpcResponse mirrors jsonrpc.Response with a raw result for decoding in tests.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc.Error  `json:"error"`
}

var requestSeq atomic.Int64

func send(t *testing.T, d *Dispatcher, s *Session, method string, params any) rpcResponse {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "id": requestSeq.Add(1), "method": method}
	if params != nil {
		msg["params"] = params
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return sendRaw(t, d, s, data)
}

func sendRaw(t *testing.T, d *Dispatcher, s *Session, data []byte) rpcResponse {
	t.Helper()
	out := d.HandleMessage(context.Background(), s, data)
	if out == nil {
		t.Fatalf("expected a response to %s, got none", data)
	}
	var resp rpcResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, out)
	}
	if resp.JSONRPC != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %q", resp.JSONRPC)
	}
	if (resp.Error == nil) == (resp.Result == nil) {
		t.Fatalf("response must carry exactly one of result and error: %s", out)
	}
	return resp
}

func initialized(t *testing.T, d *Dispatcher, p *PostgresMcp) *Session {
	t.Helper()
	s := p.NewSession()
	resp := send(t, d, s, MethodInitialize, map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	})
	if resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp.Error)
	}
	return s
}

func expectError(t *testing.T, resp rpcResponse, code int, kind string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("expected error code %d, got %d (%s)", code, resp.Error.Code, resp.Error.Message)
	}
	if got, _ := resp.Error.Data["kind"].(string); got != kind {
		t.Fatalf("expected error kind %q, got %q", kind, got)
	}
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent"`
}

func decodeToolResult(t *testing.T, resp rpcResponse) toolResult {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("expected tool result, got error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	var r toolResult
	if err := json.Unmarshal(resp.Result, &r); err != nil {
		t.Fatalf("failed to decode tool result: %v", err)
	}
	return r
}
