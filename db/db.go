// Package db carries the embedded schema migrations applied by dbtool.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
