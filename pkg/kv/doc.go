// Package kv provides a Redis-like key-value store abstraction with in-memory
// and Redis-backed implementations.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	_ = store.Set(ctx, "landing:austin:homes-for-sale", payload, 6*time.Hour)
//	value, err := store.Get(ctx, "landing:austin:homes-for-sale")
//	if errors.Is(err, kv.ErrNotFound) {
//		// regenerate
//	}
//
// When the Redis backend is selected the store is wrapped in a FailoverStore
// that falls back to memory while Redis is unreachable and promotes Redis
// again once it answers a ping.
package kv
