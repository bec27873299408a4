// Package dbmigrations exposes embedded SQL migrations for back-office binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into back-office binaries.
//
//go:embed *.sql
var Files embed.FS
