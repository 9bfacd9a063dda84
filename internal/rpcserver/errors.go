package rpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rscodex/rscodex/internal/rerr"
)

// Standard and custom JSON-RPC error codes.
const (
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeMethodNotFound = -32601
	ErrCodeTimeout        = -32001
	ErrCodeLocked         = -32002
)

// MCPError is a JSON-RPC error with a code and a client-facing message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError builds an invalid_params error with msg as the
// client-facing message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError translates an internal error into an MCP protocol error.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var rerrErr *rerr.Error
	if errors.As(err, &rerrErr) {
		switch rerrErr.Code {
		case rerr.CodeInvalidInput:
			return &MCPError{Code: ErrCodeInvalidParams, Message: rerrErr.Message}
		case rerr.CodeTimeout:
			return &MCPError{Code: ErrCodeTimeout, Message: rerrErr.Message}
		case rerr.CodeLocked:
			return &MCPError{Code: ErrCodeLocked, Message: "index is locked by another writer, try again"}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: rerrErr.Message}
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request was canceled"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}
