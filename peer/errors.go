package peer

import "errors"

var (
	// ErrInvalidArgument covers caller-supplied bad input to SendRequest:
	// a response-typed message, an oversized body, or a malformed address.
	ErrInvalidArgument = errors.New("peer: invalid argument")
	// ErrConnectionError is returned by SendRequest once every retry attempt
	// has timed out.
	ErrConnectionError = errors.New("peer: connection error")
	// ErrServerConnectionError covers any failed peer→server exchange:
	// a connection error, a SERVER_ERROR response, or an unexpected
	// response type.
	ErrServerConnectionError = errors.New("peer: server connection error")
	// ErrPeerError is fatal to peer startup: the peer could not join its
	// cluster.
	ErrPeerError = errors.New("peer: failed to start")
)
