// Package sqlite is the embedded relational backend, storing the whole
// database in one local file. Importing the package registers the
// driver under "sqlite".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/squishylib/database"
	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/record"

	_ "modernc.org/sqlite"
)

func init() {
	database.Register("sqlite", New)
}

// Driver opens a local database file through the pure-Go sqlite
// engine.
type Driver struct {
	path string
	log  *console.Logger

	mu sync.RWMutex
	db *sql.DB
}

// New reads sqlite.path from the section.
func New(section *config.Section, log *console.Logger) (database.Driver, error) {
	path := section.GetString("sqlite.path", "")
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite.path is required", database.ErrConfiguration)
	}
	return &Driver{path: path, log: log}, nil
}

func (d *Driver) Backend() datatype.Backend {
	return datatype.Sqlite
}

// Open creates the file when missing and verifies the handle with a
// ping. Opening an already-open driver is a no-op.
func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		if d.db.PingContext(ctx) == nil {
			return nil
		}
		d.db.Close()
		d.db = nil
	}

	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		return database.WrapDriverError(datatype.Sqlite, "open", d.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return database.WrapDriverError(datatype.Sqlite, "open", d.path, err)
	}
	d.db = db
	d.log.Debug("opened %s", d.path)
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Connected probes the handle with a fresh ping.
func (d *Driver) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db != nil && d.db.Ping() == nil
}

func (d *Driver) conn() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// HasTable consults the sqlite_master catalog.
func (d *Driver) HasTable(ctx context.Context, table string) (bool, error) {
	const stmt = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	var count int
	err := d.conn().QueryRowContext(ctx, stmt, table).Scan(&count)
	if err != nil {
		return false, database.WrapDriverError(datatype.Sqlite, "has_table", stmt, err)
	}
	return count > 0, nil
}

func (d *Driver) Table(table string, info *record.Info) database.TableDriver {
	return &database.SQLTable{
		Conn: d.conn,
		Kind: datatype.Sqlite,
		Name: table,
		Info: info,
		Log:  d.log,
	}
}

// DropDatabase disconnects and removes the database file.
func (d *Driver) DropDatabase(ctx context.Context) error {
	if err := d.Close(); err != nil {
		return database.WrapDriverError(datatype.Sqlite, "drop_database", d.path, err)
	}
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return database.WrapDriverError(datatype.Sqlite, "drop_database", d.path, err)
	}
	d.log.Info("removed %s", d.path)
	return nil
}
