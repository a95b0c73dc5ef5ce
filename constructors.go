package nrfnet

import (
	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/link/mocklink"
	"github.com/aarossig/nrfnet/transport"
)

// NewTransport builds a Transport over lk with the default configuration.
// handler and log may be nil.
func NewTransport(lk Link, handler EventHandler, log *zap.Logger) *Transport {
	return transport.New(lk, handler, transport.DefaultConfig(), nil, log)
}

// NewLoopbackPair builds two Transports over in-memory links wired to each
// other, for development and testing without radio hardware. The returned
// transports are started; the caller must Close both.
func NewLoopbackPair(addrA, addrB uint32, maxPayload uint32, handlerA, handlerB EventHandler, log *zap.Logger) (*Transport, *Transport) {
	lkA := mocklink.New(addrA, maxPayload)
	lkB := mocklink.New(addrB, maxPayload)
	mocklink.ConnectLinks(lkA, lkB)

	trA := NewTransport(lkA, handlerA, log)
	trB := NewTransport(lkB, handlerB, log)
	trA.Start()
	trB.Start()
	return trA, trB
}
