package mcpclient

import (
	"context"
	"encoding/json"
)

// Transport is the wire-level abstraction both stdio and HTTP backends
// satisfy. Client is built against this interface so a fake transport can
// stand in for tests without a real MCP server.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Events() <-chan *JSONRPCNotification
	Connected() bool
}

// NewTransport builds the transport indicated by cfg.Transport.
func NewTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return NewHTTPTransport(cfg)
	}
	return NewStdioTransport(cfg)
}
