// Package state persists manifest snapshots between scans.
//
// Responsibilities:
//   - Store[T] only loads and saves a single snapshot for a single Ref.
//   - Persister captures a pv.Manifest into a Store and applies stored
//     snapshots back through the manifest, so every restored value passes
//     the same validation as a live write.
//   - Autosave and Watch drive a Persister from a timer or from file changes.
//
// Data flow:
//
//	pv.Manifest.Snapshot -> Persister.Save -> Store.Save
//	Store.Load -> Persister.Restore -> pv.Manifest.Restore -> RestoreReport
//
// Deterministic keys:
//
//	Ref.Identifier() maps a store namespace and configuration name onto
//	"<namespace>/<name>", with colons in the namespace replaced by dots. File
//	stores use it as a relative path, Badger stores as a key suffix.
package state
