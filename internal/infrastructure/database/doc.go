// Package database manages the SQLite connection for Corelink Core.
//
// It owns connection setup (WAL mode, busy timeout, pool limits), embedded
// schema migrations, and health checks. Repositories in other packages
// receive the underlying *sql.DB and issue their own queries.
package database
