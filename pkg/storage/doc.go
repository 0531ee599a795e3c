// Package storage owns the Postgres connection and schema for turnstile.
//
// Postgres is the source of truth for every durable fact: permission grants,
// sessions, refresh-token validity and the durable copy of the revocation
// list. Redis (pkg/cache) only ever accelerates reads of that data.
//
// # Usage
//
//	db, err := storage.Open(ctx, cfg.Postgres)
//	if err != nil { ... }
//	if err := storage.RunMigrations(ctx, db, logger); err != nil { ... }
//
// Multi-row writes go through WithTx so they commit or roll back together.
package storage
