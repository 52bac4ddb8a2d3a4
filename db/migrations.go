// Package db ships the SQL schema with the binary.
package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Migrations returns the up scripts rooted at the migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
