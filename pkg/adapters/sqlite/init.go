// Package sqlite provides the SQLite destination adapter.
//
// This file registers the adapter with the adapter registry. Import
// this package with a blank identifier to register it:
//
//	import _ "github.com/leapstack-labs/gridetl/pkg/adapters/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

func init() {
	adapter.Register("sqlite", func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
