package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// User represents a user record
type User struct {
	ID         int64
	ExternalID string  // Subject of the verified identity token
	Name       *string // Display name, nil until chosen
	CreatedAt  int64   // Unix timestamp in milliseconds
}

// GetUserByExternalID looks up a user by verified identity subject
func (db *DB) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT user_id, external_id, user_name, created_at FROM users WHERE external_id = ?
	`), externalID))
}

// GetUser looks up a user by internal id
func (db *DB) GetUser(ctx context.Context, userID int64) (*User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT user_id, external_id, user_name, created_at FROM users WHERE user_id = ?
	`), userID))
}

func (db *DB) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var name sql.NullString
	if err := row.Scan(&u.ID, &u.ExternalID, &name, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if name.Valid {
		u.Name = &name.String
	}
	return u, nil
}

// CreateUser inserts a user with no display name. Inserting an existing
// external id is a no-op so concurrent first logins converge on one row.
func (db *DB) CreateUser(ctx context.Context, externalID string) error {
	query := `INSERT INTO users (external_id, created_at) VALUES (?, ?) ON CONFLICT (external_id) DO NOTHING`
	if _, err := db.writeConn.ExecContext(ctx, db.rebind(query), externalID, nowMillis()); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUserName sets a user's display name
func (db *DB) UpdateUserName(ctx context.Context, userID int64, name string) error {
	res, err := db.writeConn.ExecContext(ctx, db.rebind(`UPDATE users SET user_name = ? WHERE user_id = ?`), name, userID)
	if err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
