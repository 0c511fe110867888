package server

import (
	"bytes"
	"context"
	"unicode"
	"unicode/utf8"

	"github.com/miravalier/tabletop/pkg/blob"
	"github.com/miravalier/tabletop/pkg/protocol"
)

// sniffSampleSize is how much of the content is inspected for text
const sniffSampleSize = 64

var imageSignatures = [][]byte{
	{0x89, 0x50, 0x4E, 0x47}, // PNG
	{0xFF, 0xD8, 0xFF, 0xDB}, // JPEG
	{0xFF, 0xD8, 0xFF, 0xEE},
	{0xFF, 0xD8, 0xFF, 0xE0},
	{0xFF, 0xD8, 0xFF, 0xE1},
	[]byte("<svg"),
}

// SniffFileType classifies uploaded content as an image, text or raw bytes
func SniffFileType(data []byte) string {
	for _, sig := range imageSignatures {
		if bytes.HasPrefix(data, sig) {
			return protocol.FileTypeImage
		}
	}

	sample := data
	if len(sample) > sniffSampleSize {
		sample = sample[:sniffSampleSize]
		// Drop a multi-byte rune cut off by the sample boundary
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	if !utf8.Valid(sample) {
		return protocol.FileTypeRaw
	}
	for _, r := range string(sample) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return protocol.FileTypeRaw
		}
	}
	return protocol.FileTypeText
}

// handleUploadFile records the intent of a chunked upload into a directory.
// The file is created once every declared chunk has arrived.
func (s *Server) handleUploadFile(ctx context.Context, req *Request) protocol.Message {
	msg := req.Message
	requestID, ok := msg.RequestID32()
	if !ok {
		return protocol.Errorf("missing request id")
	}
	name, ok := msg.String(protocol.FieldName)
	if !ok {
		return protocol.Errorf("missing file name")
	}
	dirID, ok := msg.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("missing directory id")
	}
	chunkCount, ok := msg.Int64(protocol.FieldChunkCount)
	if !ok {
		return protocol.Errorf("missing chunk count")
	}

	dir, err := s.store.GetFile(ctx, dirID)
	if err != nil {
		return fileError("upload file", dirID, err)
	}
	if !dir.IsDirectory() {
		return protocol.Errorf("file id %d is not a directory", dirID)
	}

	meta := protocol.Message{
		protocol.FieldName: name,
		protocol.FieldID:   dirID,
		protocol.FieldUUID: blob.NewKey(),
	}

	key := TransferKey{ConnID: req.Conn.ID, RequestID: requestID}
	reply, err := s.transfers.Intent(ctx, key, meta, chunkCount, s.completeUpload(req.Account))
	if err != nil {
		return protocol.Errorf("%s", err)
	}
	return reply
}

// handleBinary appends one chunk frame to its transfer
func (s *Server) handleBinary(ctx context.Context, req *Request) protocol.Message {
	msg := req.Message
	requestID, ok := msg.RequestID32()
	if !ok {
		return protocol.Errorf("missing request id")
	}
	data, ok := msg.Bytes(protocol.FieldData)
	if !ok {
		return protocol.Errorf("missing chunk data")
	}
	index, _ := msg.Int64(protocol.FieldChunk)

	key := TransferKey{ConnID: req.Conn.ID, RequestID: requestID}
	reply, err := s.transfers.Chunk(ctx, key, uint32(index), data)
	if err != nil {
		return protocol.Errorf("%s", err)
	}
	return reply
}

// completeUpload stores the reassembled content and creates its file record
func (s *Server) completeUpload(owner *Account) CompletionFunc {
	return func(ctx context.Context, t *Transfer) protocol.Message {
		name, _ := t.Meta.String(protocol.FieldName)
		dirID, _ := t.Meta.Int64(protocol.FieldID)
		key, _ := t.Meta.String(protocol.FieldUUID)

		data := t.Data()
		fileType := SniffFileType(data)

		if err := s.blobs.Put(ctx, key, data); err != nil {
			return storageError("store upload", err)
		}

		fileID, err := s.store.CreateFile(ctx, name, fileType, owner.UserID, dirID, &key)
		if err != nil {
			if derr := s.blobs.Delete(ctx, key); derr != nil {
				errorLog.Printf("Failed to remove orphaned blob %s: %v", key, derr)
			}
			return fileError("create file", dirID, err)
		}

		debugLog.Printf("User %d uploaded %q as file %d (%s, %d bytes)", owner.UserID, name, fileID, fileType, len(data))
		return protocol.NewMessage(protocol.TypeFilesUpdated)
	}
}
