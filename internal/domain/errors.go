package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidOrder    = errors.New("invalid order parameters")
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrStaleUpdate     = errors.New("stale order book update")
)
