// Package database provides SQLite storage for a Gray Logic node.
//
// The node keeps two tables: value_history, one row per input or output
// value change, and node_snapshots, the serialised node document saved on
// shutdown. Both are created by the embedded migrations in the top-level
// migrations package.
//
// Connections run with a busy timeout, foreign keys on and, when enabled,
// WAL journaling. The pool holds a single connection since SQLite allows
// one writer.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each migration is applied in its own transaction and
// recorded in schema_migrations.
package database
