package nodeclient

import (
	"context"

	"github.com/auraspeak/broker/pkg/protocol"
	"github.com/auraspeak/broker/pkg/rpc"
	"github.com/pion/dtls/v3"
)

// Params is a client for the parameter store.
type Params struct {
	rpc *rpc.Client
}

// NewParams wraps an rpc client connected to the parameter store.
func NewParams(c *rpc.Client) *Params {
	return &Params{rpc: c}
}

// DialParams connects to the parameter store at addr.
func DialParams(ctx context.Context, addr string, cfg *dtls.Config) (*Params, error) {
	c, err := rpc.Dial(ctx, addr, cfg)
	if err != nil {
		return nil, err
	}
	return NewParams(c), nil
}

// Get returns the value stored under key and whether it exists.
func (p *Params) Get(ctx context.Context, key string) (string, bool, error) {
	var v protocol.ParamValue
	if err := p.rpc.Call(ctx, protocol.PacketTypeParamGet, protocol.ParamRequest{Key: key}, &v); err != nil {
		return "", false, err
	}
	return v.Value, v.Found, nil
}

// Set stores value under key.
func (p *Params) Set(ctx context.Context, key, value string) error {
	return p.rpc.Call(ctx, protocol.PacketTypeParamSet, protocol.ParamRequest{Key: key, Value: value}, nil)
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Params) Delete(ctx context.Context, key string) error {
	return p.rpc.Call(ctx, protocol.PacketTypeParamDelete, protocol.ParamRequest{Key: key}, nil)
}

// List returns every parameter whose key starts with prefix, in key order.
func (p *Params) List(ctx context.Context, prefix string) ([]protocol.ParamValue, error) {
	var values []protocol.ParamValue
	if err := p.rpc.Call(ctx, protocol.PacketTypeParamList, protocol.ParamRequest{Key: prefix}, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// Close closes the connection to the parameter store.
func (p *Params) Close() error {
	return p.rpc.Close()
}
