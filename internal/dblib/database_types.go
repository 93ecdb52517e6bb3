package dblib

import (
	"fmt"
	"strings"
)

// NullDisplay is how a nil value is rendered in the grid.
const NullDisplay = "NULL"

type DatabaseType int

const (
	SQLite DatabaseType = iota
	PostgreSQL
	MySQL
)

type databaseFeature struct {
	name     string
	driver   string
	dialect  Dialect
	embedded bool
}

var databaseFeatures = map[DatabaseType]databaseFeature{
	SQLite: {
		name:     "sqlite",
		driver:   "sqlite3",
		dialect:  Backtick,
		embedded: true,
	},
	PostgreSQL: {
		name:     "postgres",
		driver:   "postgres",
		dialect:  DoubleQuote,
		embedded: false,
	},
	MySQL: {
		name:     "mysql",
		driver:   "mysql",
		dialect:  Backtick,
		embedded: false,
	},
}

// ParseDatabaseType maps a connection "type" value to a DatabaseType.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return PostgreSQL, nil
	case "mysql", "mariadb":
		return MySQL, nil
	}
	return 0, fmt.Errorf("unsupported database type %q", s)
}

func (t DatabaseType) String() string {
	if f, ok := databaseFeatures[t]; ok {
		return f.name
	}
	return fmt.Sprintf("DatabaseType(%d)", int(t))
}

// DriverName is the database/sql driver registered for t.
func (t DatabaseType) DriverName() string {
	return databaseFeatures[t].driver
}

// Dialect is the identifier quoting style used when the user leaves the
// dialect on "auto".
func (t DatabaseType) Dialect() Dialect {
	return databaseFeatures[t].dialect
}

// Embedded reports whether the database lives in a local file.
func (t DatabaseType) Embedded() bool {
	return databaseFeatures[t].embedded
}
