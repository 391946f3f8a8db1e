// Package migrations embeds the goose SQL migrations for the migrate command
// and the integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
