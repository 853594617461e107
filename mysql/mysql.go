// Package mysql is the server relational backend. Importing the
// package registers the driver under "mysql".
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	driver "github.com/go-sql-driver/mysql"

	"github.com/squishylib/database"
	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/record"
)

func init() {
	database.Register("mysql", New)
}

// Driver connects to a MySQL server over TCP. The first open runs
// against the server without a schema selected, creates the configured
// database if needed, and reconnects bound to it.
type Driver struct {
	addr     string
	dbName   string
	user     string
	password string
	log      *console.Logger

	mu sync.RWMutex
	db *sql.DB
}

// New reads mysql.connection_string (host:port), mysql.database_name,
// mysql.username and mysql.password from the section.
func New(section *config.Section, log *console.Logger) (database.Driver, error) {
	d := &Driver{
		addr:     section.GetString("mysql.connection_string", ""),
		dbName:   section.GetString("mysql.database_name", ""),
		user:     section.GetString("mysql.username", ""),
		password: section.GetString("mysql.password", ""),
		log:      log,
	}
	if d.addr == "" || d.dbName == "" || d.user == "" {
		return nil, fmt.Errorf("%w: mysql needs connection_string, database_name and username", database.ErrConfiguration)
	}
	return d, nil
}

func (d *Driver) Backend() datatype.Backend {
	return datatype.MySQL
}

func (d *Driver) dsn(dbName string) string {
	c := driver.NewConfig()
	c.User = d.user
	c.Passwd = d.password
	c.Net = "tcp"
	c.Addr = d.addr
	c.DBName = dbName
	return c.FormatDSN()
}

// Open ensures the database exists, then binds the handle to it.
// Opening an already-open driver is a no-op.
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

	server, err := sql.Open("mysql", d.dsn(""))
	if err != nil {
		return database.WrapDriverError(datatype.MySQL, "open", d.addr, err)
	}
	stmt := "CREATE DATABASE IF NOT EXISTS " + d.dbName
	if _, err := server.ExecContext(ctx, stmt); err != nil {
		server.Close()
		return database.WrapDriverError(datatype.MySQL, "open", stmt, err)
	}
	server.Close()

	db, err := sql.Open("mysql", d.dsn(d.dbName))
	if err != nil {
		return database.WrapDriverError(datatype.MySQL, "open", d.addr, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return database.WrapDriverError(datatype.MySQL, "open", d.addr, err)
	}
	d.db = db
	d.log.Debug("connected to %s/%s", d.addr, d.dbName)
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

// HasTable consults information_schema for the bound database.
func (d *Driver) HasTable(ctx context.Context, table string) (bool, error) {
	const stmt = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	var count int
	err := d.conn().QueryRowContext(ctx, stmt, table).Scan(&count)
	if err != nil {
		return false, database.WrapDriverError(datatype.MySQL, "has_table", stmt, err)
	}
	return count > 0, nil
}

func (d *Driver) Table(table string, info *record.Info) database.TableDriver {
	return &database.SQLTable{
		Conn: d.conn,
		Kind: datatype.MySQL,
		Name: table,
		Info: info,
		Log:  d.log,
	}
}

// DropDatabase issues DROP DATABASE and closes the handle.
func (d *Driver) DropDatabase(ctx context.Context) error {
	stmt := "DROP DATABASE " + d.dbName
	if _, err := d.conn().ExecContext(ctx, stmt); err != nil {
		return database.WrapDriverError(datatype.MySQL, "drop_database", stmt, err)
	}
	d.log.Info("dropped database %s", d.dbName)
	return d.Close()
}
