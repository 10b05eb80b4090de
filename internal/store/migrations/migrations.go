// Package migrations embeds the ordered schema versions applied at open time.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
