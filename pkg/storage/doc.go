// Package storage holds uploaded files, such as payment proofs, behind the
// ObjectStore interface.
//
// Two backends exist: FileSystemStore for single-node deployments and
// development, and S3Store for S3 or any S3 compatible service (MinIO).
// New picks one from Config.Type.
//
//	store, err := storage.New(ctx, cfg.Storage)
//	key := storage.ProofKey(tenantID, paymentID, header.Filename)
//	err = store.Put(ctx, key, file, header.Header.Get("Content-Type"))
//
// Only the key is persisted in the database.
package storage
