// Package store provides the SQLite-backed feature store.
//
// Each image name maps to a group holding one dataset per output kind
// (keypoints, descriptors, global_descriptor, image_size, ...). Datasets are
// stored as little-endian blobs tagged with dtype and shape, and may carry
// scalar attributes (uncertainty on keypoints).
//
// # Guarantees
//
//   - A group is written in a single transaction: it is either fully present
//     or absent after Write returns.
//   - Writing an existing name replaces its group; there is never more than
//     one group per name.
//   - Keys enumerates names without reading dataset payloads, which is what
//     the extraction loop uses to resume.
//   - When the database runs out of space the partial group is removed and
//     the error wraps types.ErrStorageExhausted.
//
// The store is not safe for concurrent writers; the connection pool is
// limited to a single connection.
//
// # Drivers
//
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo, default)
//   - "sqlite":  modernc.org/sqlite (pure Go)
package store
