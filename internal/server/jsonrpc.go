// Package server implements the JSON-RPC 2.0 WebSocket query server that
// exposes the message archive to downstream consumers.
package server

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// rpcError is the JSON-RPC error object returned to clients.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return e.Message
}

func invalidParams(msg string) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: msg}
}

// rpcRequest is the incoming request envelope. ID is kept raw so any JSON
// value the caller supplied is echoed back verbatim.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// rpcResponse is the outgoing response envelope. Exactly one of Result and
// Error is set.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

func errorResponse(err *rpcError, id json.RawMessage) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Error: err, ID: id}
}

func successResponse(result any, id json.RawMessage) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Result: result, ID: id}
}
