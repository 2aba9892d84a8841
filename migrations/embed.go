// Package migrations carries the schema migration files compiled into the
// binary, so the service and its integration tests migrate from the same
// source regardless of working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
