package protocol

import "encoding/binary"

// EncodeU32 encodes value as 4 little-endian bytes.
func EncodeU32(value uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return buf
}

// DecodeU32 decodes 4 little-endian bytes. The caller must ensure
// len(data) >= 4.
func DecodeU32(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data)
}

// EncodeU16 encodes value as 2 little-endian bytes.
func EncodeU16(value uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}

// DecodeU16 decodes 2 little-endian bytes. The caller must ensure
// len(data) >= 2.
func DecodeU16(data []byte) uint16 {
	return binary.LittleEndian.Uint16(data)
}
