// Package migrations embeds the kernel's numbered SQL migration files so
// internal/store can apply them in ascending order at startup.
package migrations

import "embed"

// Files exposes every embedded *.sql migration file.
//
//go:embed *.sql
var Files embed.FS
