package security

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/gauravks/open62541/errors"
)

// wireKeySet is the JSON document an external Security Key Service
// writes into the KV bucket on key rollover.
type wireKeySet struct {
	TokenID       uint32 `json:"tokenId"`
	SigningKey    []byte `json:"signingKey"`
	EncryptingKey []byte `json:"encryptingKey"`
	Nonce         []byte `json:"nonce"`
}

// ActivateFunc installs a rolled-over key set for a security-group id.
// pubsub.Manager supplies the implementation: decode under the service
// mutex, then call SetEncryptionKeys on every ReaderGroup referencing
// that group id.
type ActivateFunc func(ctx context.Context, securityGroupID string, ks KeySet) error

// KVBucket opens watchers over a security-group KV bucket. Satisfied
// by natsclient.KVStore.
type KVBucket interface {
	Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

// SKSClient watches a JetStream KV bucket keyed by security-group id
// and activates each observed key rollover via Activate.
type SKSClient struct {
	bucket   KVBucket
	activate ActivateFunc
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSKSClient creates a client that will call activate for every KV
// update observed once Start runs.
func NewSKSClient(bucket KVBucket, activate ActivateFunc, logger *slog.Logger) *SKSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SKSClient{bucket: bucket, activate: activate, logger: logger, done: make(chan struct{})}
}

// Start begins watching all keys in the bucket ("*" pattern — one key
// per security-group id) and runs until ctx is cancelled or Stop is
// called.
func (c *SKSClient) Start(ctx context.Context) error {
	watcher, err := c.bucket.Watch(ctx, "*")
	if err != nil {
		return errors.Wrap(err, errors.KindConnectionClosed, "SKSClient", "Start")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(watchCtx, watcher)
	return nil
}

func (c *SKSClient) run(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer close(c.done)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue // initial nil marks "caught up", not a real update
			}
			c.handleUpdate(ctx, entry)
		}
	}
}

func (c *SKSClient) handleUpdate(ctx context.Context, entry jetstream.KeyValueEntry) {
	if entry.Operation() != jetstream.KeyValuePut {
		return
	}

	var wire wireKeySet
	if err := json.Unmarshal(entry.Value(), &wire); err != nil {
		c.logger.Error("sks: malformed key set", "security_group_id", entry.Key(), "error", err)
		return
	}

	ks := KeySet{
		TokenID:       wire.TokenID,
		SigningKey:    wire.SigningKey,
		EncryptingKey: wire.EncryptingKey,
		Nonce:         wire.Nonce,
	}

	if err := c.activate(ctx, entry.Key(), ks); err != nil {
		c.logger.Error("sks: activate failed", "security_group_id", entry.Key(), "error", err)
	} else {
		c.logger.Info("sks: key rollover activated", "security_group_id", entry.Key(), "token_id", ks.TokenID)
	}
}

// Stop cancels the watch loop and blocks until it has exited.
func (c *SKSClient) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

