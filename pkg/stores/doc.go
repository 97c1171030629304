// Package stores provides the persistence layer for hostvault. It
// includes SQLite-based storage with WAL mode, embedded schema
// migrations, and CRUD operations for resolution runs and their
// findings.
package stores
