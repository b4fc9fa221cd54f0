// Package migrations holds the versioned postgres schema applied by goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
