// Package storage provides the durable key-value layer behind the local
// notification cache and the user preferences.
//
// Drivers:
//   - "file": snapshot + journal files, no external services
//   - "sqlite": single-table SQLite database (modernc.org/sqlite, pure Go)
//   - "badger": embedded BadgerDB directory
//   - "memory": process-local map, lost on exit
package storage
