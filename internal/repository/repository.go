// Package repository constructs the storage adapters behind app ports.
package repository

import (
	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/repository/sqlite"
)

// NewStateStore returns a StateStore backed by the workflow's SQLite
// database at path (normally .smithers/workflow.db). The file is not
// created until the first write.
func NewStateStore(path string) (app.StateStore, error) {
	return sqlite.New(path)
}
