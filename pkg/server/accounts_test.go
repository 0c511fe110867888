package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAccountsLookupCreatesOnce(t *testing.T) {
	db := newMockDB()
	accounts, err := NewAccounts(db, 16)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)
	second, err := accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), db.createCalls.Load())
	assert.Len(t, db.users, 1)

	_, named := first.DisplayName()
	assert.False(t, named, "new account should have no name")
}

func TestAccountsLookupUsesCache(t *testing.T) {
	db := newMockDB()
	accounts, err := NewAccounts(db, 16)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)
	calls := db.lookupCalls.Load()

	_, err = accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, calls, db.lookupCalls.Load(), "cached lookup hit storage")
}

func TestAccountsConcurrentFirstLookup(t *testing.T) {
	db := newMockDB()
	accounts, err := NewAccounts(db, 16)
	require.NoError(t, err)

	const workers = 32
	results := make([]*Account, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := accounts.Lookup(context.Background(), "subject-1")
			assert.NoError(t, err)
			results[i] = acct
		}(i)
	}
	wg.Wait()

	assert.Len(t, db.users, 1, "exactly one account record")
	for _, acct := range results {
		assert.Equal(t, results[0].UserID, acct.UserID)
	}
}

func TestAccountsLookupStorageError(t *testing.T) {
	db := newMockDB()
	db.setFail(errStorage)
	accounts, err := NewAccounts(db, 16)
	require.NoError(t, err)

	_, err = accounts.Lookup(context.Background(), "subject-1")
	assert.ErrorIs(t, err, errStorage)
}

func TestAccountsRenameWritesThrough(t *testing.T) {
	db := newMockDB()
	accounts, err := NewAccounts(db, 16)
	require.NoError(t, err)
	ctx := context.Background()

	acct, err := accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)

	name, err := accounts.UserName(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Equal(t, UnknownUserName, name)

	require.NoError(t, accounts.Rename(ctx, acct, "Grog"))

	stored, err := db.GetUser(ctx, acct.UserID)
	require.NoError(t, err)
	require.NotNil(t, stored.Name)
	assert.Equal(t, "Grog", *stored.Name)

	got, ok := acct.DisplayName()
	assert.True(t, ok)
	assert.Equal(t, "Grog", got)

	cached, err := accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)
	got, _ = cached.DisplayName()
	assert.Equal(t, "Grog", got)

	name, err = accounts.UserName(ctx, acct.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Grog", name, "stale cached name after rename")
}

func TestAccountsRenameFailureKeepsName(t *testing.T) {
	db := newMockDB()
	accounts, err := NewAccounts(db, 16)
	require.NoError(t, err)
	ctx := context.Background()

	acct, err := accounts.Lookup(ctx, "subject-1")
	require.NoError(t, err)

	db.setFail(errStorage)
	assert.ErrorIs(t, accounts.Rename(ctx, acct, "Grog"), errStorage)

	_, named := acct.DisplayName()
	assert.False(t, named)
}

func TestAccountsUnknownUser(t *testing.T) {
	accounts, err := NewAccounts(newMockDB(), 16)
	require.NoError(t, err)

	name, err := accounts.UserName(context.Background(), 12345)
	require.NoError(t, err)
	assert.Equal(t, UnknownUserName, name)
}

func TestAccountsCacheEviction(t *testing.T) {
	db := newMockDB()
	accounts, err := NewAccounts(db, 2)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := accounts.Lookup(ctx, "a")
	require.NoError(t, err)
	_, err = accounts.Lookup(ctx, "b")
	require.NoError(t, err)
	_, err = accounts.Lookup(ctx, "c")
	require.NoError(t, err)

	again, err := accounts.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, first.UserID, again.UserID, "evicted account must resolve to the same user")
	assert.Len(t, db.users, 3)
}

func TestAccountsLookupProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		db := newMockDB()
		accounts, err := NewAccounts(db, rapid.IntRange(1, 8).Draw(t, "cacheSize"))
		if err != nil {
			t.Fatalf("NewAccounts: %v", err)
		}

		subjects := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "c", "d", "e"}), 1, 40).Draw(t, "subjects")
		ids := make(map[string]int64)
		for _, s := range subjects {
			acct, err := accounts.Lookup(context.Background(), s)
			if err != nil {
				t.Fatalf("Lookup(%q): %v", s, err)
			}
			if prev, ok := ids[s]; ok && prev != acct.UserID {
				t.Fatalf("subject %q resolved to %d then %d", s, prev, acct.UserID)
			}
			ids[s] = acct.UserID
		}

		if len(db.users) != len(ids) {
			t.Fatalf("expected %d users, got %d", len(ids), len(db.users))
		}
	})
}
