package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miravalier/tabletop/pkg/blob"
	"github.com/miravalier/tabletop/pkg/database"
	"github.com/miravalier/tabletop/pkg/identity"
	"github.com/miravalier/tabletop/pkg/protocol"
)

var errStorage = errors.New("disk on fire")

// mockDB is a simple in-memory mock database for testing
type mockDB struct {
	mu         sync.RWMutex
	users      map[int64]*database.User
	files      map[int64]*database.File
	messages   []*database.Message
	nextUserID int64
	nextFileID int64
	nextMsgID  int64

	failWith    error // returned by every call when set
	lookupCalls atomic.Int64
	createCalls atomic.Int64
}

// newMockDB creates a mock database with the seeded root directory
func newMockDB() *mockDB {
	m := &mockDB{
		users:      make(map[int64]*database.User),
		files:      make(map[int64]*database.File),
		nextUserID: 1,
		nextFileID: 2,
		nextMsgID:  1000,
	}
	m.files[database.RootDirectoryID] = &database.File{ID: database.RootDirectoryID, Name: "root", Type: protocol.FileTypeDirectory}
	return m
}

func (m *mockDB) fail() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failWith
}

func (m *mockDB) setFail(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// AddFile inserts a file record with a fixed id
func (m *mockDB) AddFile(id int64, name, fileType string, parentID int64, blobUUID *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := parentID
	m.files[id] = &database.File{ID: id, Name: name, Type: fileType, ParentID: &parent, UUID: blobUUID}
	if id >= m.nextFileID {
		m.nextFileID = id + 1
	}
}

func (m *mockDB) GetUserByExternalID(_ context.Context, externalID string) (*database.User, error) {
	m.lookupCalls.Add(1)
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, database.ErrUserNotFound
}

func (m *mockDB) GetUser(_ context.Context, userID int64) (*database.User, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockDB) CreateUser(_ context.Context, externalID string) error {
	m.createCalls.Add(1)
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ExternalID == externalID {
			return nil
		}
	}
	id := m.nextUserID
	m.nextUserID++
	m.users[id] = &database.User{ID: id, ExternalID: externalID}
	return nil
}

func (m *mockDB) UpdateUserName(_ context.Context, userID int64, name string) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	u.Name = &name
	return nil
}

func (m *mockDB) PostMessage(_ context.Context, senderID int64, category string, displayName *string, content string) (*database.Message, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &database.Message{
		ID:          m.nextMsgID,
		SenderID:    senderID,
		Category:    category,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   time.Now().UnixMilli(),
	}
	m.nextMsgID++
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockDB) ListRecentMessages(_ context.Context, limit int) ([]*database.Message, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*database.Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.messages[i])
	}
	return out, nil
}

func (m *mockDB) ClearMessages(_ context.Context) (int64, error) {
	if err := m.fail(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.messages))
	m.messages = nil
	return n, nil
}

func (m *mockDB) GetFile(_ context.Context, fileID int64) (*database.File, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockDB) ListChildren(_ context.Context, parentID int64) ([]*database.File, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*database.File
	for _, f := range m.files {
		if f.ParentID != nil && *f.ParentID == parentID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockDB) CreateFile(_ context.Context, name, fileType string, ownerID, parentID int64, blobUUID *string) (int64, error) {
	if err := m.fail(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.files[parentID]
	if !ok {
		return 0, database.ErrFileNotFound
	}
	if parent.Type != protocol.FileTypeDirectory {
		return 0, database.ErrNotDirectory
	}
	id := m.nextFileID
	m.nextFileID++
	owner, p := ownerID, parentID
	m.files[id] = &database.File{ID: id, Name: name, Type: fileType, OwnerID: &owner, ParentID: &p, UUID: blobUUID}
	return id, nil
}

func (m *mockDB) CreateDirectory(ctx context.Context, name string, ownerID, parentID int64) (int64, error) {
	return m.CreateFile(ctx, name, protocol.FileTypeDirectory, ownerID, parentID, nil)
}

func (m *mockDB) RenameFile(_ context.Context, fileID int64, name string) error {
	if err := m.fail(); err != nil {
		return err
	}
	if fileID == database.RootDirectoryID {
		return database.ErrRootDirectory
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return database.ErrFileNotFound
	}
	f.Name = name
	return nil
}

func (m *mockDB) DeleteTree(_ context.Context, fileID int64) ([]string, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	if fileID == database.RootDirectoryID {
		return nil, database.ErrRootDirectory
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return nil, database.ErrFileNotFound
	}

	var keys []string
	var walk func(id int64)
	walk = func(id int64) {
		f := m.files[id]
		if f.UUID != nil {
			keys = append(keys, *f.UUID)
		}
		delete(m.files, id)
		for childID, c := range m.files {
			if c.ParentID != nil && *c.ParentID == id {
				walk(childID)
			}
		}
	}
	walk(fileID)
	return keys, nil
}

func (m *mockDB) Ping(context.Context) error {
	return m.fail()
}

// fileCount returns the number of file records
func (m *mockDB) fileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// memBlobs is an in-memory blob store
type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{blobs: make(map[string][]byte)}
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
	return nil
}

func (b *memBlobs) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// mockVerifier accepts the tokens it knows
type mockVerifier struct {
	tokens map[string]*identity.Identity
}

func (v *mockVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return nil, identity.ErrInvalidToken
	}
	return id, nil
}

type testFrame struct {
	kind FrameKind
	data []byte
}

// fakeTransport is an in-memory Transport fed by the test
type fakeTransport struct {
	in        chan testFrame
	out       chan testFrame
	closed    chan struct{}
	closeOnce sync.Once
	failWrite atomic.Bool
	block     chan struct{} // when set, writes wait for it to close
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan testFrame, 16),
		out:    make(chan testFrame, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame() (FrameKind, []byte, error) {
	select {
	case fr, ok := <-f.in:
		if !ok {
			return FrameOther, nil, io.EOF
		}
		return fr.kind, fr.data, nil
	case <-f.closed:
		return FrameOther, nil, io.EOF
	}
}

func (f *fakeTransport) write(kind FrameKind, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	if f.failWrite.Load() {
		return errors.New("broken pipe")
	}
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.out <- testFrame{kind: kind, data: data}
	return nil
}

func (f *fakeTransport) WriteText(data []byte) error   { return f.write(FrameText, data) }
func (f *fakeTransport) WriteBinary(data []byte) error { return f.write(FrameBinary, data) }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "pipe" }

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// initTestLoggers silences server logging
func initTestLoggers() {
	SetLogOutput(io.Discard, io.Discard)
}

type testEnv struct {
	srv   *Server
	db    *mockDB
	blobs *memBlobs
}

// newTestEnv builds a server over in-memory collaborators. Tokens "token-<n>"
// map to subject "subject-<n>".
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	initTestLoggers()

	verifier := &mockVerifier{tokens: map[string]*identity.Identity{
		"token-1":  {Subject: "subject-1", Issuer: "accounts.google.com", Email: "one@example.com"},
		"token-2":  {Subject: "subject-2", Issuer: "accounts.google.com", Email: "two@example.com"},
		"token-3":  {Subject: "subject-3", Issuer: "accounts.google.com", Email: "three@example.com"},
		"no-email": {Subject: "subject-x", Issuer: "accounts.google.com"},
	}}

	db := newMockDB()
	blobs := newMemBlobs()
	srv, err := NewServer(DefaultConfig(), db, blobs, verifier)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { srv.cancel() })

	return &testEnv{srv: srv, db: db, blobs: blobs}
}
