package server

import (
	"context"
	"errors"
	"html"

	"github.com/miravalier/tabletop/pkg/blob"
	"github.com/miravalier/tabletop/pkg/protocol"
)

// handleListDirectory returns the children of a directory as [name, id, type] rows
func (s *Server) handleListDirectory(ctx context.Context, req *Request) protocol.Message {
	dirID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("missing directory id")
	}

	dir, err := s.store.GetFile(ctx, dirID)
	if err != nil {
		return fileError("ls", dirID, err)
	}
	if !dir.IsDirectory() {
		return protocol.Errorf("file id %d is not a directory", dirID)
	}

	children, err := s.store.ListChildren(ctx, dirID)
	if err != nil {
		return storageError("ls", err)
	}

	nodes := make([][]any, 0, len(children))
	for _, f := range children {
		nodes = append(nodes, []any{f.Name, f.ID, f.Type})
	}

	return protocol.Message{
		protocol.FieldType:  protocol.TypeDirectoryListing,
		protocol.FieldNodes: nodes,
	}
}

// handleGetParent reports the parent of a node; the root's parent is null
func (s *Server) handleGetParent(ctx context.Context, req *Request) protocol.Message {
	fileID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("missing file id")
	}

	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return fileError("get parent", fileID, err)
	}

	var parent any
	if f.ParentID != nil {
		parent = *f.ParentID
	}

	return protocol.Message{
		protocol.FieldType:   protocol.TypeFileParent,
		protocol.FieldChild:  fileID,
		protocol.FieldParent: parent,
	}
}

func (s *Server) handleAddSubfolder(ctx context.Context, req *Request) protocol.Message {
	name, ok := req.Message.String(protocol.FieldName)
	if !ok {
		return protocol.Errorf("add subfolder missing name")
	}
	parentID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("add subfolder missing parent id")
	}

	if _, err := s.store.CreateDirectory(ctx, name, req.Account.UserID, parentID); err != nil {
		return fileError("add subfolder", parentID, err)
	}
	return protocol.NewMessage(protocol.TypeFilesUpdated)
}

func (s *Server) handleRenameFile(ctx context.Context, req *Request) protocol.Message {
	name, ok := req.Message.String(protocol.FieldName)
	if !ok {
		return protocol.Errorf("rename file missing name")
	}
	fileID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("rename file missing file id")
	}

	if err := s.store.RenameFile(ctx, fileID, name); err != nil {
		return fileError("rename file", fileID, err)
	}
	return protocol.NewMessage(protocol.TypeFilesUpdated)
}

// handleDeleteFile deletes a node with all of its descendants and their blobs
func (s *Server) handleDeleteFile(ctx context.Context, req *Request) protocol.Message {
	fileID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("delete file missing file id")
	}

	keys, err := s.store.DeleteTree(ctx, fileID)
	if err != nil {
		return fileError("delete file", fileID, err)
	}

	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			errorLog.Printf("Failed to delete blob %s of file %d: %v", key, fileID, err)
		}
	}
	debugLog.Printf("User %d deleted file %d (%d blobs)", req.Account.UserID, fileID, len(keys))

	return protocol.NewMessage(protocol.TypeFilesUpdated)
}

// handleOpenFile returns text content inline (HTML-escaped) and a blob
// reference for everything else
func (s *Server) handleOpenFile(ctx context.Context, req *Request) protocol.Message {
	fileID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("open request missing file id")
	}

	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return fileError("open file", fileID, err)
	}

	if f.Type != protocol.FileTypeText {
		var ref any
		if f.UUID != nil {
			ref = *f.UUID
		}
		return protocol.Message{
			protocol.FieldType: f.Type,
			protocol.FieldUUID: ref,
		}
	}

	if f.UUID == nil {
		return protocol.Errorf("txt file not backed by uuid")
	}
	data, err := s.blobs.Get(ctx, *f.UUID)
	if errors.Is(err, blob.ErrNotFound) {
		return protocol.Errorf("txt file not backed by uuid")
	}
	if err != nil {
		return storageError("open file", err)
	}

	return protocol.Message{
		protocol.FieldType:    protocol.FileTypeText,
		protocol.FieldContent: html.EscapeString(string(data)),
	}
}

// handleDownloadFile replies with a raw binary frame: request id then file bytes
func (s *Server) handleDownloadFile(ctx context.Context, req *Request) protocol.Message {
	fileID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("download request missing id")
	}
	requestID, ok := req.Message.RequestID32()
	if !ok {
		return protocol.Errorf("download request missing id")
	}

	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return fileError("download file", fileID, err)
	}
	if f.UUID == nil {
		return protocol.Errorf("id %d not backed by file", fileID)
	}

	data, err := s.blobs.Get(ctx, *f.UUID)
	if errors.Is(err, blob.ErrNotFound) {
		return protocol.Errorf("id %d not backed by file", fileID)
	}
	if err != nil {
		return storageError("download file", err)
	}

	if err := req.Conn.SendBinary(protocol.EncodeDownloadFrame(requestID, data)); err != nil {
		debugLog.Printf("Conn %d: download of file %d failed: %v", req.Conn.ID, fileID, err)
	}
	return nil
}
