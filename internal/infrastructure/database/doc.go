// Package database provides SQLite connectivity for the vendorsync topology
// store (gateways, devices, parameters and their capabilities).
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations loaded from an fs.FS
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
