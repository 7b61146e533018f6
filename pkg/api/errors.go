package api

import "errors"

var (
	// ErrDuplicateName is returned when a node name is already registered.
	ErrDuplicateName = errors.New("node name already registered")
	// ErrUnknownNode is returned for operations on a node that is not registered.
	ErrUnknownNode = errors.New("node not found")
	// ErrUnknownEndpoint is returned for a publisher or subscriber id the node does not own.
	ErrUnknownEndpoint = errors.New("endpoint not found")
	// ErrPeerUnreachable is returned when a node's control endpoint could not be called.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrInvalidProtocol is returned for a transport protocol other than tcp or udp.
	ErrInvalidProtocol = errors.New("invalid protocol")
)
