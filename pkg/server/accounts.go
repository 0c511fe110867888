package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/miravalier/tabletop/pkg/database"
)

// UnknownUserName is reported for user ids with no account or no name
const UnknownUserName = "Unknown User"

// Account is the server-side identity of an authenticated user
type Account struct {
	ExternalID string
	UserID     int64

	mu          sync.RWMutex
	displayName *string
}

// DisplayName returns the account's name, if it has one
func (a *Account) DisplayName() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.displayName == nil {
		return "", false
	}
	return *a.displayName, true
}

func (a *Account) setDisplayName(name string) {
	a.mu.Lock()
	a.displayName = &name
	a.mu.Unlock()
}

// Accounts resolves external identities to accounts, creating them on first
// sight. Both caches are bounded LRUs.
type Accounts struct {
	store UserStore
	cache *lru.Cache[string, *Account]
	names *lru.Cache[int64, string]
}

// NewAccounts creates a resolver whose caches hold up to size entries each
func NewAccounts(store UserStore, size int) (*Accounts, error) {
	cache, err := lru.New[string, *Account](size)
	if err != nil {
		return nil, fmt.Errorf("account cache: %w", err)
	}
	names, err := lru.New[int64, string](size)
	if err != nil {
		return nil, fmt.Errorf("user name cache: %w", err)
	}
	return &Accounts{store: store, cache: cache, names: names}, nil
}

// Lookup returns the account for externalID, creating it when absent
func (a *Accounts) Lookup(ctx context.Context, externalID string) (*Account, error) {
	if acct, ok := a.cache.Get(externalID); ok {
		return acct, nil
	}

	user, err := a.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, database.ErrUserNotFound) {
		if err := a.store.CreateUser(ctx, externalID); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		user, err = a.store.GetUserByExternalID(ctx, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	acct := &Account{
		ExternalID:  externalID,
		UserID:      user.ID,
		displayName: user.Name,
	}

	// A concurrent lookup may have cached the account first; share its instance
	if prev, ok, _ := a.cache.PeekOrAdd(externalID, acct); ok {
		return prev, nil
	}
	return acct, nil
}

// Rename writes a new display name through to storage, then refreshes the
// cached account and drops the cached user name.
func (a *Accounts) Rename(ctx context.Context, acct *Account, name string) error {
	if err := a.store.UpdateUserName(ctx, acct.UserID, name); err != nil {
		return err
	}

	acct.setDisplayName(name)
	if cached, ok := a.cache.Peek(acct.ExternalID); ok && cached != acct {
		cached.setDisplayName(name)
	}
	a.names.Remove(acct.UserID)
	return nil
}

// UserName returns the display name for a user id
func (a *Accounts) UserName(ctx context.Context, userID int64) (string, error) {
	if name, ok := a.names.Get(userID); ok {
		return name, nil
	}

	name := UnknownUserName
	user, err := a.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
	case err != nil:
		return "", err
	case user.Name != nil:
		name = *user.Name
	}

	a.names.Add(userID, name)
	return name, nil
}
