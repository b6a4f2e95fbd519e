package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"teleconvo/internal/database"
)

// handlerFunc processes one operation's raw params and returns either a
// result payload or a protocol error.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *rpcError)

// Dispatcher validates incoming JSON-RPC requests, maps each operation name
// to exactly one Store call, and serializes results. It holds no state
// between requests.
type Dispatcher struct {
	store    database.Store
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

// NewDispatcher creates a dispatcher bound to the given store.
func NewDispatcher(store database.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		store:  store,
		logger: logger.With("component", "dispatcher"),
	}
	d.handlers = map[string]handlerFunc{
		"listMessages": d.handleListMessages,
		"listChats":    d.handleListChats,
		"listUsers":    d.handleListUsers,
		"listMedia":    d.handleListMedia,
		"search":       d.handleSearch,
	}
	return d
}

// HandleData processes one inbound frame (a single request object or an
// ordered batch array) and returns the serialized response frame. It never
// returns an empty reply: every frame produces exactly one response frame.
func (d *Dispatcher) HandleData(ctx context.Context, data []byte) []byte {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		return d.handleBatch(ctx, trimmed)
	}

	var req rpcRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		d.logger.WarnContext(ctx, "Failed to parse request", "error", err)
		return marshalResponse(errorResponse(
			&rpcError{Code: codeParseError, Message: "Parse error: invalid JSON"}, nil))
	}
	return marshalResponse(d.handleRequest(ctx, &req))
}

// handleBatch processes an ordered batch. Non-object entries are dropped;
// if nothing valid remains the whole frame is rejected as one invalid
// request. Responses preserve input order.
func (d *Dispatcher) handleBatch(ctx context.Context, data []byte) []byte {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		d.logger.WarnContext(ctx, "Failed to parse batch request", "error", err)
		return marshalResponse(errorResponse(
			&rpcError{Code: codeParseError, Message: "Parse error: invalid JSON"}, nil))
	}

	responses := make([]rpcResponse, 0, len(entries))
	for _, entry := range entries {
		var req rpcRequest
		if err := json.Unmarshal(entry, &req); err != nil {
			// Non-object batch entries are dropped, not fatal.
			continue
		}
		responses = append(responses, d.handleRequest(ctx, &req))
	}

	if len(responses) == 0 {
		return marshalResponse(errorResponse(&rpcError{
			Code:    codeInvalidRequest,
			Message: "Invalid batch request: all items must be objects",
		}, nil))
	}

	out, err := json.Marshal(responses)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to marshal batch response", "error", err)
		return marshalResponse(errorResponse(
			&rpcError{Code: codeInternalError, Message: "Internal error"}, nil))
	}
	return out
}

// handleRequest runs the Parse→Validate→Execute→Serialize pipeline for one
// request and always produces a response correlated by the caller's id.
func (d *Dispatcher) handleRequest(ctx context.Context, req *rpcRequest) rpcResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(&rpcError{
			Code:    codeInvalidRequest,
			Message: "Invalid JSON-RPC version",
		}, req.ID)
	}

	handler, ok := d.handlers[req.Method]
	if !ok {
		return errorResponse(&rpcError{
			Code:    codeMethodNotFound,
			Message: "Method not found: " + req.Method,
		}, req.ID)
	}

	// Params must be an object or null; anything else is rejected before
	// the handler sees it.
	if trimmed := bytes.TrimSpace(req.Params); len(trimmed) > 0 &&
		trimmed[0] != '{' && !bytes.Equal(trimmed, []byte("null")) {
		return errorResponse(invalidParams("params must be an object or null"), req.ID)
	}

	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return errorResponse(rpcErr, req.ID)
	}
	return successResponse(result, req.ID)
}

// internalError logs the full failure server-side and returns the generic
// internal-error classification; implementation detail never crosses the
// system boundary.
func (d *Dispatcher) internalError(ctx context.Context, method string, err error) *rpcError {
	d.logger.ErrorContext(ctx, "Handler failed", "method", method, "error", err)
	return &rpcError{Code: codeInternalError, Message: "Internal error"}
}

func marshalResponse(resp rpcResponse) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// A response we built ourselves failing to marshal is a bug; fall
		// back to a hand-assembled internal error frame.
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"}}`)
	}
	return out
}
