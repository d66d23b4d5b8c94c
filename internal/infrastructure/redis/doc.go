// Package redis provides the shared key-value store used for vendor
// credentials and pending change requests.
//
// Keys live without expiry so that every importer process and every task
// worker sees the same credentials and the same ledger.
//
//	store, err := redis.Connect(cfg.Redis)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	value, ok, err := store.Get(ctx, "secure_ak_uk")
package redis
