// Package nrfnet provides a façade to access the radio datagram transport:
// reliable, selectively-acknowledged payload delivery over tiny fixed-size
// packet radios such as the NRF24L01.
package nrfnet

import (
	"github.com/aarossig/nrfnet/link"
	"github.com/aarossig/nrfnet/protocol"
	"github.com/aarossig/nrfnet/transport"
)

// Re-export types so callers can drive a transport without importing the
// subpackages directly.
type (
	Link           = link.Link
	Frame          = link.Frame
	TransmitResult = link.TransmitResult
	ReceiveResult  = link.ReceiveResult
	Transport      = transport.Transport
	Config         = transport.Config
	EventHandler   = transport.EventHandler
	SendResult     = transport.SendResult
	Clock          = transport.Clock
)

// Error constants exposed in the public API
var (
	ErrInvalidPayloadSize = protocol.ErrInvalidPayloadSize
	ErrTooManySequenceIDs = protocol.ErrTooManySequenceIDs
)

// Constants exposed in the public API
const (
	BroadcastAddress = protocol.BroadcastAddress
	MinPayloadSize   = protocol.MinPayloadSize
	MaxPayloadSize   = protocol.MaxPayloadSize
)

const (
	SendSuccess       = transport.SendSuccess
	SendTimeout       = transport.SendTimeout
	SendTooLarge      = transport.SendTooLarge
	SendTransmitError = transport.SendTransmitError
	SendReceiveError  = transport.SendReceiveError
	SendInvalidFrame  = transport.SendInvalidFrame
)
