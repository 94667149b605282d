// Package natsclient wraps the NATS Go client with circuit-breaker
// protection, automatic reconnection and a CAS-safe KV helper.
//
// The pubsub security package uses it for exactly one thing: watching a
// JetStream Key-Value bucket for key rollovers pushed by an external
// Security Key Service and feeding them into ReaderGroup.SetEncryptionKeys.
// Everything else here (streams, consumers, generic pub/sub) is kept
// because the same Client and circuit breaker serve any future
// NATS-backed collaborator without change.
//
// # Circuit breaker
//
// Consecutive failures (default threshold: 5) open the circuit, which
// fails fast instead of piling up blocked calls; a timer periodically
// flips the circuit back to disconnected so the next health check can
// probe a real reconnect.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222")
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	js, err := client.JetStream()
//	if err != nil {
//	    return err
//	}
//	bucket, err := js.KeyValue(ctx, "pubsub-keys")
//	if err != nil {
//	    return err
//	}
//	kv := client.NewKVStore(bucket)
//	watcher, err := kv.Watch(ctx, "sg.*")
package natsclient
