package protocol

// SubFrame is one reassembly window of an air-frame: the bytes of
// user_payload||CRC16(user_payload) found at [Offset, Offset+Len), tagged
// with the total air-frame length so a receiver can detect completion.
type SubFrame struct {
	Len      uint32
	Offset   uint32
	TotalLen uint32
	Body     []byte
}

// MaxSubFrameSize returns the largest sub-frame (header + body) that a
// single END-ack bitmap of maxPayload-2 bytes can fully acknowledge: each
// of the (maxPayload-2)*8 representable sequence ids carries up to
// maxPayload-2 payload bytes.
func MaxSubFrameSize(maxPayload int) int {
	fragmentCapacity := maxPayload - 2
	return fragmentCapacity * 8 * fragmentCapacity
}

// MaxSequenceIDs returns the number of PAYLOAD fragments (ceil division)
// needed to carry dataLen bytes over a link whose payload is maxPayload
// bytes.
func MaxSequenceIDs(dataLen, maxPayload int) int {
	fragmentSize := maxPayload - 2
	return (dataLen + fragmentSize - 1) / fragmentSize
}

// BuildAirFrame appends the little-endian CRC16 of payload to payload.
func BuildAirFrame(payload []byte) []byte {
	crc := CRC16(payload)
	air := make([]byte, 0, len(payload)+2)
	air = append(air, payload...)
	air = append(air, EncodeU16(crc)...)
	return air
}

// BuildSubFrames splits payload||CRC16(payload) into sub-frames sized to
// fit within a single END-ack window for the given maxPayload. It returns
// ErrTooManySequenceIDs if any resulting sub-frame would need more than
// MaxSequenceID+1 PAYLOAD fragments to transmit.
func BuildSubFrames(payload []byte, maxPayload int) ([]SubFrame, error) {
	if maxPayload < MinPayloadSize || maxPayload > MaxPayloadSize {
		return nil, ErrInvalidPayloadSize
	}

	air := BuildAirFrame(payload)
	maxBody := MaxSubFrameSize(maxPayload) - PayloadHeaderSize
	if maxBody <= 0 {
		return nil, ErrInvalidPayloadSize
	}

	var frames []SubFrame
	for offset := 0; offset < len(air); {
		subLen := maxBody
		if remaining := len(air) - offset; remaining < subLen {
			subLen = remaining
		}

		if MaxSequenceIDs(PayloadHeaderSize+subLen, maxPayload) > MaxSequenceID+1 {
			return nil, ErrTooManySequenceIDs
		}

		body := make([]byte, subLen)
		copy(body, air[offset:offset+subLen])
		frames = append(frames, SubFrame{
			Len:      uint32(subLen),
			Offset:   uint32(offset),
			TotalLen: uint32(len(air)),
			Body:     body,
		})
		offset += subLen
	}

	return frames, nil
}

// EncodeSubFrame serializes sf as sub_len||sub_offset||total_len||body.
func EncodeSubFrame(sf SubFrame) []byte {
	out := make([]byte, 0, PayloadHeaderSize+len(sf.Body))
	out = append(out, EncodeU32(sf.Len)...)
	out = append(out, EncodeU32(sf.Offset)...)
	out = append(out, EncodeU32(sf.TotalLen)...)
	out = append(out, sf.Body...)
	return out
}

// ParseSubFrameHeader decodes the 12-byte sub-frame header from data.
func ParseSubFrameHeader(data []byte) (subLen, subOffset, totalLen uint32, err error) {
	if len(data) < PayloadHeaderSize {
		return 0, 0, 0, ErrShortSubFrame
	}
	subLen = DecodeU32(data[0:4])
	subOffset = DecodeU32(data[4:8])
	totalLen = DecodeU32(data[8:12])
	return subLen, subOffset, totalLen, nil
}
