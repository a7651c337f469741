package local

import (
	"embed"
)

// MigrationsDir is the root of the schema files inside GetMigrationsFS.
const MigrationsDir = "data/sql/migrations"

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the schema files for the users and link
// tables, in bun migration naming.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
