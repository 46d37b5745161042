// Package persistence stores conversations behind a single Store
// contract with in-memory, file, and SQLite backends.
//
// Invariants:
//   - Save assigns an id on first save and overwrites on later saves
//   - Load of an unknown id returns ErrNotFound
//   - List orders by most recently updated, newest first
//   - Delete is idempotent
//
// Usage:
//
//	store, err := persistence.Open(persistence.Config{Backend: "sqlite", DSN: "conversations.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	id, err := store.Save(ctx, conv)
package persistence
