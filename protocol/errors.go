package protocol

import "errors"

var (
	// ErrInvalidPayloadSize is returned when a Link advertises a
	// MaxPayloadSize outside [MinPayloadSize, MaxPayloadSize].
	ErrInvalidPayloadSize = errors.New("protocol: invalid link payload size")
	// ErrFragmentSize is returned when a PAYLOAD fragment is longer than
	// MaxPayloadSize-2 bytes. Shorter fragments are not rejected; they are
	// zero-padded to that length.
	ErrFragmentSize = errors.New("protocol: fragment is not max_payload-2 bytes")
	// ErrTooManySequenceIDs is returned when a sub-frame would require more
	// than MaxSequenceID+1 PAYLOAD fragments to transmit.
	ErrTooManySequenceIDs = errors.New("protocol: sub-frame requires more than 256 sequence ids")
	// ErrShortSubFrame is returned when a candidate sub-frame buffer is
	// shorter than PayloadHeaderSize.
	ErrShortSubFrame = errors.New("protocol: sub-frame shorter than header size")
	// ErrShortLinkPayload is returned when a link payload is too short to
	// contain even a frame type byte.
	ErrShortLinkPayload = errors.New("protocol: link payload too short")
)
