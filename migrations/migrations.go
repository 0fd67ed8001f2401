// Package migrations embeds the per-tenant SQL schema.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
