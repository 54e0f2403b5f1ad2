// Package database provides SQLite connectivity for the grow engine.
//
// This package manages:
//   - The connection, opened in WAL mode with BEGIN IMMEDIATE transactions
//   - Embedded, versioned schema migrations
//   - Transaction and timestamp helpers shared by repositories
//
// The pool holds exactly one connection. Code running inside WithTx must
// route every statement through the transaction it was handed.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
