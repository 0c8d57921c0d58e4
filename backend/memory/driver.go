package memory

import (
	"database/sql"

	"modernc.org/sqlite"
)

// DriverName is the name the pure Go SQLite driver is registered under.
const DriverName = "sqlite3"

func init() {
	// modernc.org/sqlite registers itself as "sqlite"; the store opens
	// databases through the conventional "sqlite3" name.
	sql.Register(DriverName, &sqlite.Driver{})
}
