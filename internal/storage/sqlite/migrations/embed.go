package migrations

import "embed"

// FS содержит встроенные SQL-миграции хранилища.
//
//go:embed *.sql
var FS embed.FS
