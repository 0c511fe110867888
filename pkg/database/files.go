package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRootDirectory is returned when trying to delete or rename the root directory.
var ErrRootDirectory = errors.New("cannot modify the root directory")

// File represents a node of the shared file tree
type File struct {
	ID        int64
	Name      string
	Type      string  // "directory", "img", "txt" or "raw"
	OwnerID   *int64  // nil for the seeded root
	ParentID  *int64  // nil for the root directory
	UUID      *string // Blob key; nil for directories
	CreatedAt int64   // Unix timestamp in milliseconds
}

// IsDirectory reports whether the node is a directory
func (f *File) IsDirectory() bool {
	return f.Type == "directory"
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) getFile(ctx context.Context, q queryRower, fileID int64) (*File, error) {
	f := &File{}
	var ownerID, parentID sql.NullInt64
	var fileUUID sql.NullString

	err := q.QueryRowContext(ctx, db.rebind(`
		SELECT file_id, file_name, file_type, owner_id, parent_id, file_uuid, created_at
		FROM files WHERE file_id = ?
	`), fileID).Scan(&f.ID, &f.Name, &f.Type, &ownerID, &parentID, &fileUUID, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	if ownerID.Valid {
		f.OwnerID = &ownerID.Int64
	}
	if parentID.Valid {
		f.ParentID = &parentID.Int64
	}
	if fileUUID.Valid {
		f.UUID = &fileUUID.String
	}
	return f, nil
}

// GetFile returns a single file record
func (db *DB) GetFile(ctx context.Context, fileID int64) (*File, error) {
	return db.getFile(ctx, db.conn, fileID)
}

// ListChildren returns the direct children of a directory
func (db *DB) ListChildren(ctx context.Context, parentID int64) ([]*File, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT file_id, file_name, file_type, file_uuid
		FROM files WHERE parent_id = ? ORDER BY file_id ASC
	`), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f := &File{ParentID: &parentID}
		var fileUUID sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &fileUUID); err != nil {
			return nil, err
		}
		if fileUUID.Valid {
			f.UUID = &fileUUID.String
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// CreateFile inserts a file record under parentID. A nil blobUUID creates a node
// without content (directories).
func (db *DB) CreateFile(ctx context.Context, name, fileType string, ownerID, parentID int64, blobUUID *string) (int64, error) {
	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	parent, err := db.getFile(ctx, tx, parentID)
	if err != nil {
		return 0, fmt.Errorf("parent %d: %w", parentID, err)
	}
	if !parent.IsDirectory() {
		return 0, fmt.Errorf("parent %d: %w", parentID, ErrNotDirectory)
	}

	var uuidArg sql.NullString
	if blobUUID != nil {
		uuidArg = sql.NullString{String: *blobUUID, Valid: true}
	}

	var fileID int64
	err = tx.QueryRowContext(ctx, db.rebind(`
		INSERT INTO files (file_name, file_type, owner_id, parent_id, file_uuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING file_id
	`), name, fileType, ownerID, parentID, uuidArg, nowMillis()).Scan(&fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return fileID, nil
}

// CreateDirectory inserts a directory under parentID
func (db *DB) CreateDirectory(ctx context.Context, name string, ownerID, parentID int64) (int64, error) {
	return db.CreateFile(ctx, name, "directory", ownerID, parentID, nil)
}

// RenameFile changes the user-facing name of a file or directory
func (db *DB) RenameFile(ctx context.Context, fileID int64, name string) error {
	if fileID == RootDirectoryID {
		return ErrRootDirectory
	}

	res, err := db.writeConn.ExecContext(ctx, db.rebind(`UPDATE files SET file_name = ? WHERE file_id = ?`), name, fileID)
	if err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}

// DeleteTree deletes a file or a directory with all of its descendants.
// Returns the blob keys of every deleted record that was backed by content.
func (db *DB) DeleteTree(ctx context.Context, fileID int64) ([]string, error) {
	if fileID == RootDirectoryID {
		return nil, ErrRootDirectory
	}

	tx, err := db.writeConn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, db.rebind(`
		WITH RECURSIVE tree(file_id, file_uuid) AS (
			SELECT file_id, file_uuid FROM files WHERE file_id = ?
			UNION ALL
			SELECT f.file_id, f.file_uuid FROM files f JOIN tree t ON f.parent_id = t.file_id
		)
		SELECT file_id, file_uuid FROM tree
	`), fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}

	var found bool
	var blobs []string
	for rows.Next() {
		var id int64
		var fileUUID sql.NullString
		if err := rows.Scan(&id, &fileUUID); err != nil {
			rows.Close()
			return nil, err
		}
		found = true
		if fileUUID.Valid && fileUUID.String != "" {
			blobs = append(blobs, fileUUID.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrFileNotFound
	}

	// Descendants go with the root through ON DELETE CASCADE
	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM files WHERE file_id = ?`), fileID); err != nil {
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// CountFiles returns the number of records in the file tree
func (db *DB) CountFiles(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}
