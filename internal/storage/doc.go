// Package storage persists vault contents as authenticated ciphertext.
//
// Layout under the vault root:
//   - deadbolt.db: bbolt catalog with three buckets
//     config: format version, timestamps, vault id, attempt counter
//     verifiers: persona verifier bundle (salts + derived values only)
//     private: one encrypted index record per scope
//   - records/<scope>/<id>: one flat file per encrypted record, keyed by
//     an opaque UUID so no original name ever touches the disk
//
// Record files live outside bbolt on purpose: secure deletion overwrites
// the ciphertext in place before unlinking, which a copy-on-write B-tree
// cannot guarantee. The catalog is compacted after index wipes for the
// same reason.
//
// The index for each scope is a single read-modify-write unit: loaded
// once per session, mutated in memory, flushed whole on each change.
package storage
