package server

import (
	"context"

	"github.com/miravalier/tabletop/pkg/database"
	"github.com/miravalier/tabletop/pkg/identity"
)

// UserStore is the account storage used by Accounts
type UserStore interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*database.User, error)
	GetUser(ctx context.Context, userID int64) (*database.User, error)
	CreateUser(ctx context.Context, externalID string) error
	UpdateUserName(ctx context.Context, userID int64, name string) error
}

// Store defines the database operations used by the server.
// *database.DB implements it; tests use an in-memory mock.
type Store interface {
	UserStore

	// Chat history
	PostMessage(ctx context.Context, senderID int64, category string, displayName *string, content string) (*database.Message, error)
	ListRecentMessages(ctx context.Context, limit int) ([]*database.Message, error)
	ClearMessages(ctx context.Context) (int64, error)

	// File tree
	GetFile(ctx context.Context, fileID int64) (*database.File, error)
	ListChildren(ctx context.Context, parentID int64) ([]*database.File, error)
	CreateFile(ctx context.Context, name, fileType string, ownerID, parentID int64, blobUUID *string) (int64, error)
	CreateDirectory(ctx context.Context, name string, ownerID, parentID int64) (int64, error)
	RenameFile(ctx context.Context, fileID int64, name string) error
	DeleteTree(ctx context.Context, fileID int64) ([]string, error)

	Ping(ctx context.Context) error
}

// Verifier checks identity tokens
type Verifier interface {
	Verify(ctx context.Context, token string) (*identity.Identity, error)
}

var _ Store = (*database.DB)(nil)
