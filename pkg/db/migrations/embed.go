package migrations

import "embed"

// Sources lists the migration files so goose can match them against the Go
// migrations registered in init functions.
//
//go:embed 0*.go
var Sources embed.FS
