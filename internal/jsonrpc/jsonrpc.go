// Package jsonrpc holds the JSON-RPC 2.0 envelope used by the gateway:
// requests, success/error responses and the error codes the dispatcher emits.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the only protocol version accepted in the "jsonrpc" member.
const Version = mcp.JSONRPC_VERSION

// Standard JSON-RPC 2.0 codes, plus the gateway's own server-defined range.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeMethodNotFound = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  = mcp.INVALID_PARAMS
	CodeInternalError  = mcp.INTERNAL_ERROR

	CodeNotInitialized  = -32002
	CodePolicyViolation = -32010
	CodeDatabaseError   = -32011
	CodeMarshalError    = -32012
	CodeInvalidURI      = -32013
)

// Request is a single inbound JSON-RPC message.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// must not be answered.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is either a success (Result set) or an error (Error set).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. It also satisfies the error interface so
// it can travel through ordinary Go error returns.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with no data.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData returns e with key set in its data object.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Success builds a success response for id.
func Success(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// Failure builds an error response for id.
func Failure(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

var errBatch = errors.New("batch requests are not supported")

// Decode parses a single request object. A body that is not JSON yields a
// PARSE_ERROR; JSON that is not a well-formed request object yields
// INVALID_REQUEST. The id is returned whenever it could be recovered so the
// error response can still be correlated.
func Decode(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, NewError(CodeParseError, "Parse error")
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, NewError(CodeInvalidRequest, "Invalid Request").WithData("detail", errBatch.Error())
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, NewError(CodeInvalidRequest, "Invalid Request").WithData("detail", err.Error())
	}
	if req.JSONRPC != Version {
		return &req, NewError(CodeInvalidRequest, "Invalid JSON-RPC version")
	}
	if req.Method == "" {
		return &req, NewError(CodeInvalidRequest, "Invalid Request").WithData("detail", "method is required")
	}
	if !validID(req.ID) {
		id := req.ID
		req.ID = nil
		return &req, NewError(CodeInvalidRequest, "Invalid Request").WithData("detail", fmt.Sprintf("id must be a number, string or null, got %s", id))
	}
	return &req, nil
}

// validID accepts an absent id, null, a number or a string.
func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}
