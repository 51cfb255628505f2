// Package migrations embeds the payment-service schema, including its outbox and inbox tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
