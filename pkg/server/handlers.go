package server

import (
	"context"
	"errors"

	"github.com/miravalier/tabletop/pkg/database"
	"github.com/miravalier/tabletop/pkg/protocol"
)

// registerHandlers builds the request table
func (s *Server) registerHandlers(d *Dispatcher) {
	// Chat
	d.Handle(protocol.TypeChatMessage, s.handleChatMessage)
	d.Handle(protocol.TypeRequestHistory, s.handleRequestHistory)
	d.Handle(protocol.TypeClearHistory, s.handleClearHistory)

	// Users
	d.Handle(protocol.TypeUpdateUsername, s.handleUpdateUsername)
	d.Handle(protocol.TypeQueryUsername, s.handleQueryUsername)

	// File tree
	d.Handle(protocol.TypeListDirectory, s.handleListDirectory)
	d.Handle(protocol.TypeGetParent, s.handleGetParent)
	d.Handle(protocol.TypeAddSubfolder, s.handleAddSubfolder)
	d.Handle(protocol.TypeRenameFile, s.handleRenameFile)
	d.Handle(protocol.TypeDeleteFile, s.handleDeleteFile)
	d.Handle(protocol.TypeOpenFile, s.handleOpenFile)

	// Transfers
	d.Handle(protocol.TypeDownloadFile, s.handleDownloadFile)
	d.Handle(protocol.TypeUploadFile, s.handleUploadFile)
	d.Handle(protocol.TypeBinary, s.handleBinary)
}

// storageError logs err and returns the generic failure reply
func storageError(op string, err error) protocol.Message {
	errorLog.Printf("%s failed: %v", op, err)
	return protocol.Errorf("storage error")
}

// fileError maps file tree errors for id to replies
func fileError(op string, id int64, err error) protocol.Message {
	switch {
	case errors.Is(err, database.ErrFileNotFound):
		return protocol.Errorf("file id %d does not exist", id)
	case errors.Is(err, database.ErrNotDirectory):
		return protocol.Errorf("file id %d is not a directory", id)
	case errors.Is(err, database.ErrRootDirectory):
		return protocol.Errorf("cannot modify the root directory")
	default:
		return storageError(op, err)
	}
}

// handleChatMessage stores a chat line and broadcasts it
func (s *Server) handleChatMessage(ctx context.Context, req *Request) protocol.Message {
	msg := req.Message
	text := msg.StringOr(protocol.FieldText, "")
	category := msg.StringOr(protocol.FieldCategory, protocol.DefaultCategory)
	var displayName *string
	if name, ok := msg.String(protocol.FieldDisplayName); ok {
		displayName = &name
	} else if name, ok := req.Account.DisplayName(); ok {
		displayName = &name
	}

	posted, err := s.store.PostMessage(ctx, req.Account.UserID, category, displayName, text)
	if err != nil {
		return storageError("post message", err)
	}

	s.broadcaster.Broadcast(ctx, protocol.Message{
		protocol.FieldType:        protocol.TypeChatMessage,
		protocol.FieldCategory:    category,
		protocol.FieldDisplayName: nullable(displayName),
		protocol.FieldID:          posted.ID,
		protocol.FieldText:        text,
	})
	return nil
}

// nullable maps a missing name to JSON null
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// handleRequestHistory returns recent chat lines, newest first, as
// [id, sender id, category, display name, text] rows
func (s *Server) handleRequestHistory(ctx context.Context, req *Request) protocol.Message {
	messages, err := s.store.ListRecentMessages(ctx, s.config.HistoryLimit)
	if err != nil {
		return storageError("list messages", err)
	}

	rows := make([][]any, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, []any{m.ID, m.SenderID, m.Category, nullable(m.DisplayName), m.Content})
	}

	return protocol.Message{
		protocol.FieldType:     protocol.TypeHistoryReply,
		protocol.FieldMessages: rows,
	}
}

func (s *Server) handleClearHistory(ctx context.Context, req *Request) protocol.Message {
	n, err := s.store.ClearMessages(ctx)
	if err != nil {
		return storageError("clear messages", err)
	}
	debugLog.Printf("User %d cleared %d chat messages", req.Account.UserID, n)

	s.broadcaster.Broadcast(ctx, protocol.NewMessage(protocol.TypeClearHistory))
	return nil
}

func (s *Server) handleUpdateUsername(ctx context.Context, req *Request) protocol.Message {
	name, ok := req.Message.String(protocol.FieldName)
	if !ok {
		return protocol.Errorf("missing updated username")
	}

	if err := s.accounts.Rename(ctx, req.Account, name); err != nil {
		return storageError("rename user", err)
	}

	s.broadcaster.Broadcast(ctx, protocol.Message{
		protocol.FieldType: protocol.TypeUsernameUpdate,
		protocol.FieldID:   req.Account.UserID,
		protocol.FieldName: name,
	})
	return nil
}

func (s *Server) handleQueryUsername(ctx context.Context, req *Request) protocol.Message {
	userID, ok := req.Message.Int64(protocol.FieldID)
	if !ok {
		return protocol.Errorf("username query missing user id")
	}

	name, err := s.accounts.UserName(ctx, userID)
	if err != nil {
		return storageError("query username", err)
	}

	return protocol.Message{
		protocol.FieldType: protocol.TypeUsernameUpdate,
		protocol.FieldID:   userID,
		protocol.FieldName: name,
	}
}
