package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	// ChunkHeaderSize is the fixed header length of a binary chunk frame:
	// [RequestID (4 bytes)][ChunkIndex (4 bytes)]
	ChunkHeaderSize = 8

	// DownloadHeaderSize is the header length of a binary download reply: [RequestID (4 bytes)]
	DownloadHeaderSize = 4
)

var (
	// ErrShortFrame is returned for binary frames smaller than the chunk header.
	ErrShortFrame = errors.New("frame smaller than minimum frame size of 8")
	// ErrUnknownFrame is returned for transport frames that are neither text nor binary.
	ErrUnknownFrame = errors.New("unknown frame type")
)

// ChunkFrame is one binary upload chunk.
// Format: [RequestID (4 bytes BE)][ChunkIndex (4 bytes BE)][Payload (N bytes)]
type ChunkFrame struct {
	RequestID uint32
	Index     uint32
	Payload   []byte
}

// DecodeChunkFrame parses a binary frame. The payload aliases data.
func DecodeChunkFrame(data []byte) (*ChunkFrame, error) {
	if len(data) < ChunkHeaderSize {
		return nil, ErrShortFrame
	}

	return &ChunkFrame{
		RequestID: binary.BigEndian.Uint32(data[0:4]),
		Index:     binary.BigEndian.Uint32(data[4:8]),
		Payload:   data[ChunkHeaderSize:],
	}, nil
}

// EncodeChunkFrame builds the binary representation of a chunk frame
func EncodeChunkFrame(f *ChunkFrame) []byte {
	buf := make([]byte, ChunkHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.RequestID)
	binary.BigEndian.PutUint32(buf[4:8], f.Index)
	copy(buf[ChunkHeaderSize:], f.Payload)
	return buf
}

// EncodeDownloadFrame builds a download reply: the request id followed by the raw file bytes
func EncodeDownloadFrame(requestID uint32, data []byte) []byte {
	buf := make([]byte, DownloadHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf[0:4], requestID)
	copy(buf[DownloadHeaderSize:], data)
	return buf
}

// ToMessage synthesizes the internal "binary" request for a chunk frame
func (f *ChunkFrame) ToMessage() Message {
	return Message{
		FieldType:      TypeBinary,
		FieldRequestID: f.RequestID,
		FieldChunk:     f.Index,
		FieldData:      f.Payload,
	}
}
