// Package migrations embeds the order-service schema, including its outbox and inbox tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
