package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	key   string
	value []byte
	op    jetstream.KeyValueOp
}

func (e *fakeEntry) Bucket() string               { return "security-groups" }
func (e *fakeEntry) Key() string                  { return e.key }
func (e *fakeEntry) Value() []byte                { return e.value }
func (e *fakeEntry) Revision() uint64             { return 1 }
func (e *fakeEntry) Created() time.Time           { return time.Time{} }
func (e *fakeEntry) Delta() uint64                { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

type fakeWatcher struct {
	updates chan jetstream.KeyValueEntry
}

func (w *fakeWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.updates }
func (w *fakeWatcher) Stop() error                             { return nil }

type fakeBucket struct {
	watcher *fakeWatcher
}

func (b *fakeBucket) Watch(_ context.Context, _ string) (jetstream.KeyWatcher, error) {
	return b.watcher, nil
}

func TestSKSClientActivatesKeyRollover(t *testing.T) {
	watcher := &fakeWatcher{updates: make(chan jetstream.KeyValueEntry, 1)}
	bucket := &fakeBucket{watcher: watcher}

	var mu sync.Mutex
	var activated []string
	activate := func(_ context.Context, securityGroupID string, ks KeySet) error {
		mu.Lock()
		defer mu.Unlock()
		activated = append(activated, securityGroupID)
		if ks.TokenID != 7 {
			t.Errorf("expected tokenId 7, got %d", ks.TokenID)
		}
		return nil
	}

	client := NewSKSClient(bucket, activate, slog.Default())
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	payload, err := json.Marshal(wireKeySet{
		TokenID:       7,
		SigningKey:    []byte("sign"),
		EncryptingKey: []byte("encrypt"),
		Nonce:         []byte("nonce12345ab"),
	})
	require.NoError(t, err)

	watcher.updates <- &fakeEntry{key: "group-a", value: payload, op: jetstream.KeyValuePut}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(activated) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"group-a"}, activated)
	mu.Unlock()
}

func TestSKSClientIgnoresNonPutOperations(t *testing.T) {
	watcher := &fakeWatcher{updates: make(chan jetstream.KeyValueEntry, 1)}
	bucket := &fakeBucket{watcher: watcher}

	var calls int
	activate := func(context.Context, string, KeySet) error {
		calls++
		return nil
	}

	client := NewSKSClient(bucket, activate, slog.Default())
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	watcher.updates <- &fakeEntry{key: "group-a", op: jetstream.KeyValueDelete}

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, calls)
}

func TestSKSClientStopIsIdempotent(t *testing.T) {
	watcher := &fakeWatcher{updates: make(chan jetstream.KeyValueEntry)}
	bucket := &fakeBucket{watcher: watcher}

	client := NewSKSClient(bucket, func(context.Context, string, KeySet) error { return nil }, nil)
	require.NoError(t, client.Start(context.Background()))
	require.NoError(t, client.Stop())
	require.NoError(t, client.Stop())
}
