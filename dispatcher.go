package pgmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickchristie/postgres-mcp-gateway/internal/jsonrpc"
	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
)

const tracerName = "github.com/rickchristie/postgres-mcp-gateway"

// Protocol method names.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// Kinds reported in error data for failures raised by the dispatcher itself.
const (
	kindParseError     = "PARSE_ERROR"
	kindInvalidRequest = "INVALID_REQUEST"
	kindMethodNotFound = "METHOD_NOT_FOUND"
	kindInvalidParams  = "INVALID_PARAMS"
	kindNotInitialized = "NOT_INITIALIZED"
	kindInternal       = "INTERNAL_ERROR"
)

var kindCodes = map[ErrorKind]int{
	KindPolicyViolation: jsonrpc.CodePolicyViolation,
	KindDatabase:        jsonrpc.CodeDatabaseError,
	KindMarshal:         jsonrpc.CodeMarshalError,
	KindInvalidURI:      jsonrpc.CodeInvalidURI,
}

// call is the typed form of a request, one variant per method. Params are
// fully validated by the time a call exists.
type call interface {
	method() string
}

type initializeCall struct{ params initializeParams }
type pingCall struct{}
type listToolsCall struct{}
type queryToolCall struct{ input QueryInput }
type listResourcesCall struct{}
type readResourceCall struct{ uri string }

func (initializeCall) method() string    { return MethodInitialize }
func (pingCall) method() string          { return MethodPing }
func (listToolsCall) method() string     { return MethodToolsList }
func (queryToolCall) method() string     { return MethodToolsCall }
func (listResourcesCall) method() string { return MethodResourcesList }
func (readResourceCall) method() string  { return MethodResourcesRead }

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

type callToolParams struct {
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type readResourceParams struct {
	URI *string `json:"uri"`
}

type methodEntry struct {
	// beforeInit marks methods served while the session is uninitialized.
	beforeInit bool
	decode     func(d *Dispatcher, params json.RawMessage) (call, *jsonrpc.Error)
}

var methods = map[string]methodEntry{
	MethodInitialize: {beforeInit: true, decode: func(_ *Dispatcher, raw json.RawMessage) (call, *jsonrpc.Error) {
		var p initializeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return initializeCall{params: p}, nil
	}},
	MethodPing: {beforeInit: true, decode: func(_ *Dispatcher, raw json.RawMessage) (call, *jsonrpc.Error) {
		return pingCall{}, decodeParams(raw, &struct{}{})
	}},
	MethodToolsList: {decode: func(_ *Dispatcher, raw json.RawMessage) (call, *jsonrpc.Error) {
		return listToolsCall{}, decodeParams(raw, &struct{}{})
	}},
	MethodToolsCall: {decode: (*Dispatcher).decodeToolCall},
	MethodResourcesList: {decode: func(_ *Dispatcher, raw json.RawMessage) (call, *jsonrpc.Error) {
		return listResourcesCall{}, decodeParams(raw, &struct{}{})
	}},
	MethodResourcesRead: {decode: func(_ *Dispatcher, raw json.RawMessage) (call, *jsonrpc.Error) {
		var p readResourceParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.URI == nil {
			return nil, invalidParams("uri is required")
		}
		return readResourceCall{uri: *p.URI}, nil
	}},
}

// Dispatcher routes JSON-RPC requests of a Session to the engine. It holds no
// per-connection state and is safe for concurrent use across sessions.
type Dispatcher struct {
	engine     *PostgresMcp
	tool       mcp.Tool
	toolSchema *gojsonschema.Schema
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewDispatcher creates a Dispatcher for engine.
func NewDispatcher(engine *PostgresMcp) (*Dispatcher, error) {
	tool := QueryTool()
	schemaJSON, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query tool schema: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile query tool schema: %w", err)
	}
	return &Dispatcher{
		engine:     engine,
		tool:       tool,
		toolSchema: schema,
		tracer:     otel.Tracer(tracerName),
		logger:     engine.logger,
	}, nil
}

// HandleMessage decodes one raw message, dispatches it and returns the
// encoded response, or nil when the message is a notification.
func (d *Dispatcher) HandleMessage(ctx context.Context, s *Session, data []byte) []byte {
	req, decodeErr := jsonrpc.Decode(data)
	var resp *jsonrpc.Response
	if decodeErr != nil {
		kind := kindInvalidRequest
		if decodeErr.Code == jsonrpc.CodeParseError {
			kind = kindParseError
		}
		decodeErr.WithData("kind", kind)
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		d.logger.Warn().Int("code", decodeErr.Code).Str("message", decodeErr.Message).Msg("malformed request")
		resp = jsonrpc.Failure(id, decodeErr)
	} else {
		resp = d.Dispatch(ctx, s, req)
	}
	if resp == nil {
		return nil
	}
	return encodeResponse(resp)
}

// Dispatch handles one decoded request and returns its response, or nil for
// a notification. Errors never escape as panics or missing replies.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, req *jsonrpc.Request) *jsonrpc.Response {
	startTime := time.Now()
	ctx, span := d.tracer.Start(ctx, req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
			attribute.String("session.id", s.ID()),
		),
	)
	defer span.End()

	if req.IsNotification() {
		d.logger.Debug().Str("method", req.Method).Str("session_id", s.ID()).Msg("notification received")
		return nil
	}

	result, rpcErr := d.dispatch(ctx, s, req)

	logEvent := d.logger.Info()
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		logEvent = d.logger.Warn().Int("error_code", rpcErr.Code)
	}
	logEvent.
		Str("method", req.Method).
		Str("session_id", s.ID()).
		Str("state", s.state.String()).
		Int("request_bytes", len(req.Params)).
		Dur("duration", time.Since(startTime)).
		Msg("request handled")

	if rpcErr != nil {
		return jsonrpc.Failure(req.ID, rpcErr)
	}
	return jsonrpc.Success(req.ID, result)
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	entry, ok := methods[req.Method]
	if !ok {
		return nil, protocolError(jsonrpc.CodeMethodNotFound, kindMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
	if !s.Initialized() && !entry.beforeInit {
		return nil, protocolError(jsonrpc.CodeNotInitialized, kindNotInitialized, "session not initialized")
	}
	c, rpcErr := entry.decode(d, req.Params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	switch c := c.(type) {
	case initializeCall:
		return d.initialize(s, c), nil
	case pingCall:
		return struct{}{}, nil
	case listToolsCall:
		return mcp.ListToolsResult{Tools: []mcp.Tool{d.tool}}, nil
	case queryToolCall:
		return d.callQueryTool(ctx, s, c)
	case listResourcesCall:
		resources, err := d.engine.ListResources(ctx)
		if err != nil {
			return nil, d.toRPCError(err)
		}
		return mcp.ListResourcesResult{Resources: resources}, nil
	case readResourceCall:
		output, err := d.engine.ReadResource(ctx, c.uri)
		if err != nil {
			return nil, d.toRPCError(err)
		}
		result, err := readResourceResult(c.uri, output)
		if err != nil {
			return nil, d.toRPCError(&Error{Kind: KindMarshal, Err: err})
		}
		return result, nil
	}
	return nil, protocolError(jsonrpc.CodeInternalError, kindInternal, fmt.Sprintf("unhandled call %T", c))
}

func (d *Dispatcher) initialize(s *Session, c initializeCall) initializeResult {
	if s.state == stateReady {
		d.logger.Debug().Str("session_id", s.ID()).Msg("initialize repeated on ready session")
	}
	s.state = stateReady
	s.clientName = c.params.ClientInfo.Name
	s.clientVersion = c.params.ClientInfo.Version
	d.logger.Info().
		Str("session_id", s.ID()).
		Str("client_name", s.clientName).
		Str("client_version", s.clientVersion).
		Str("client_protocol_version", c.params.ProtocolVersion).
		Msg("AI agent connected (MCP initialize)")
	return newInitializeResult()
}

func (d *Dispatcher) callQueryTool(ctx context.Context, s *Session, c queryToolCall) (any, *jsonrpc.Error) {
	output, err := d.engine.Query(ctx, c.input, s.Policy())
	if err != nil {
		return nil, d.toRPCError(err)
	}
	result, err := queryToolResult(output)
	if err != nil {
		return nil, d.toRPCError(&Error{Kind: KindMarshal, Err: err})
	}
	d.logger.Debug().
		Str("tool", QueryToolName).
		Int("response_bytes", resultLength(result)).
		Msg("tool call")
	return result, nil
}

func (d *Dispatcher) decodeToolCall(raw json.RawMessage) (call, *jsonrpc.Error) {
	var p callToolParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Name == nil {
		return nil, invalidParams("name is required")
	}
	if *p.Name != QueryToolName {
		return nil, protocolError(jsonrpc.CodeMethodNotFound, kindMethodNotFound, fmt.Sprintf("Unknown tool: %s", *p.Name))
	}

	args := bytes.TrimSpace(p.Arguments)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = []byte("{}")
	}
	result, err := d.toolSchema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid arguments: %v", err))
	}
	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			problems[i] = e.String()
		}
		return nil, invalidParams("invalid arguments: " + strings.Join(problems, "; "))
	}

	var input QueryInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid arguments: %v", err))
	}
	return queryToolCall{input: input}, nil
}

// toRPCError maps an engine error to its JSON-RPC error object.
func (d *Dispatcher) toRPCError(err error) *jsonrpc.Error {
	var e *Error
	if !errors.As(err, &e) {
		return protocolError(jsonrpc.CodeInternalError, kindInternal, err.Error())
	}
	code, ok := kindCodes[e.Kind]
	if !ok {
		code = jsonrpc.CodeInternalError
	}
	rpcErr := jsonrpc.NewError(code, e.Error()).WithData("kind", string(e.Kind))
	if state := store.SQLState(e.Err); state != "" {
		rpcErr.WithData("sqlstate", state)
	}
	var me *marshal.Error
	if errors.As(e.Err, &me) {
		if me.Column != "" {
			rpcErr.WithData("column", me.Column)
		}
		if me.TypeName != "" {
			rpcErr.WithData("type", me.TypeName)
		}
	}
	if hint := d.engine.Hint(e.Err); hint != "" {
		rpcErr.WithData("hint", hint)
	}
	return rpcErr
}

func protocolError(code int, kind, message string) *jsonrpc.Error {
	return jsonrpc.NewError(code, message).WithData("kind", kind)
}

func invalidParams(detail string) *jsonrpc.Error {
	return protocolError(jsonrpc.CodeInvalidParams, kindInvalidParams, "Invalid params").WithData("detail", detail)
}

// decodeParams decodes an object-shaped params value into dst. Absent or
// null params leave dst at its zero value.
func decodeParams(raw json.RawMessage, dst any) *jsonrpc.Error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '{' {
		return invalidParams("params must be an object")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func encodeResponse(resp *jsonrpc.Response) []byte {
	out, err := json.Marshal(resp)
	if err == nil {
		return out
	}
	fallback := jsonrpc.Failure(resp.ID, protocolError(jsonrpc.CodeInternalError, kindInternal, fmt.Sprintf("failed to encode response: %v", err)))
	out, err = json.Marshal(fallback)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"failed to encode response"}}`)
	}
	return out
}
