package matrix

import (
	"context"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Session is a logged-in Matrix device.
type Session struct {
	UserID      string
	DeviceID    string
	AccessToken string
	Homeserver  string
}

// SessionStore persists the session so restarts reuse the same device.
type SessionStore interface {
	LoadSession(ctx context.Context, userID string) (*Session, error)
	SaveSession(ctx context.Context, s Session) error
}

// KV is the key/value storage behind KVSyncStore.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// KVSyncStore keeps the sync filter id and next-batch token. With a nil KV it
// behaves like mautrix's in-memory store.
type KVSyncStore struct {
	kv KV

	mu  sync.Mutex
	mem map[string]string
}

var _ mautrix.SyncStore = (*KVSyncStore)(nil)

// NewKVSyncStore wraps kv, which may be nil.
func NewKVSyncStore(kv KV) *KVSyncStore {
	return &KVSyncStore{kv: kv, mem: make(map[string]string)}
}

func filterKey(u id.UserID) string { return "matrix:filter:" + string(u) }
func batchKey(u id.UserID) string  { return "matrix:next_batch:" + string(u) }

func (s *KVSyncStore) get(ctx context.Context, key string) (string, error) {
	if s.kv == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.mem[key], nil
	}
	v, _, err := s.kv.Get(ctx, key)
	return v, err
}

func (s *KVSyncStore) set(ctx context.Context, key, value string) error {
	if s.kv == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mem[key] = value
		return nil
	}
	return s.kv.Set(ctx, key, value)
}

func (s *KVSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.set(ctx, filterKey(userID), filterID)
}

func (s *KVSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, filterKey(userID))
}

func (s *KVSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.set(ctx, batchKey(userID), nextBatchToken)
}

func (s *KVSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, batchKey(userID))
}
