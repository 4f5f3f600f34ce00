package migrations

import "embed"

// FS embeds the tenant read model migrations.
//
//go:embed *.up.sql
var FS embed.FS
