// Package database presents one typed-record API over three storage
// backends: an embedded relational engine (sqlite), a server relational
// engine (mysql), and a document engine (mongo). Callers declare record
// structs with annotated fields, bind them to tables, and issue
// queries; the library translates declarations into backend-specific
// schema DDL, CRUD statements, and row/document decoding.
//
// Backend packages self-register in the manner of database/sql, so a
// program imports the ones it uses:
//
//	import (
//		"github.com/squishylib/database"
//		_ "github.com/squishylib/database/sqlite"
//	)
package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/query"
	"github.com/squishylib/database/record"
)

// Status is the derived connection state of a database.
type Status int

const (
	Disconnected Status = iota
	Connected
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// Driver is one backend implementation. The live handle is owned by
// the queue worker during a request; Connected probes the handle and
// may be called from any goroutine.
type Driver interface {
	Backend() datatype.Backend
	Open(ctx context.Context) error
	Close() error
	Connected() bool
	HasTable(ctx context.Context, table string) (bool, error)
	Table(table string, info *record.Info) TableDriver
	DropDatabase(ctx context.Context) error
}

// TableDriver executes operations against one table or collection.
// Row results are decoded maps: field name to declared Go value.
type TableDriver interface {
	CreateTable(ctx context.Context) error
	ListColumns(ctx context.Context) ([]string, error)
	AddColumn(ctx context.Context, field record.Field) error
	FindFirst(ctx context.Context, q *query.Query) (map[string]any, error)
	FindAll(ctx context.Context, q *query.Query) ([]map[string]any, error)
	Count(ctx context.Context, q *query.Query) (int64, error)
	InsertOrUpdate(ctx context.Context, values map[string]any) error
	DeleteAll(ctx context.Context, q *query.Query) (bool, error)
}

// DriverFactory constructs a driver from the builder's section.
type DriverFactory func(section *config.Section, log *console.Logger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{}
)

// Register makes a backend available to the builder under its
// configuration name ("sqlite", "mysql", "mongo"). Backend packages
// call it from init.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("database: Register with nil factory")
	}
	if _, dup := drivers[name]; dup {
		panic("database: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

func lookupDriver(name string) (DriverFactory, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	f, ok := drivers[name]
	return f, ok
}

func registeredDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Database binds one driver to a request queue and a reconnect policy.
// Table operations and Drop run through the queue, one at a time, in
// submission order; Connect and Disconnect run on their own goroutine
// outside the queue.
type Database struct {
	driver Driver
	log    *console.Logger
	queue  *requestQueue

	willReconnect       bool
	reconnectCooldown   time.Duration
	reconnectEveryCycle bool

	reconnecting atomic.Bool
	retrying     atomic.Bool
	shutdown     atomic.Bool

	mu     sync.Mutex
	tables map[string]*record.Info
}

// Backend returns the active backend.
func (d *Database) Backend() datatype.Backend {
	return d.driver.Backend()
}

// Logger returns the database's logger handle.
func (d *Database) Logger() *console.Logger {
	return d.log
}

// Status derives the connection state: the driver's handle is probed
// fresh on every call, and RECONNECTING is sticky until a connect
// completes.
func (d *Database) Status() Status {
	if d.driver.Connected() {
		return Connected
	}
	if d.reconnecting.Load() {
		return Reconnecting
	}
	return Disconnected
}

// IsConnected reports whether the driver's handle is live.
func (d *Database) IsConnected() bool {
	return d.Status() == Connected
}

// Connect opens the driver asynchronously. On failure the future
// carries ErrConnectionFailed; if the reconnect policy is enabled the
// database additionally moves to RECONNECTING and keeps retrying in
// the background on the configured cooldown.
func (d *Database) Connect() *Future[Status] {
	f := newFuture[Status]()
	if d.shutdown.Load() {
		f.complete(Disconnected, ErrInvalidState)
		return f
	}
	go func() {
		err := d.driver.Open(context.Background())
		if err == nil {
			d.reconnecting.Store(false)
			d.log.Info("connected to %s", d.driver.Backend())
			f.complete(Connected, nil)
			return
		}
		d.log.Error("could not connect to %s: %v", d.driver.Backend(), err)
		if d.willReconnect {
			d.beginReconnect()
			f.complete(Reconnecting, fmt.Errorf("%w: %v", ErrConnectionFailed, err))
			return
		}
		f.complete(Disconnected, fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}()
	return f
}

// Disconnect closes the driver handle. With reconnect true the
// database moves to RECONNECTING and initiates a new connect.
// Calling while already reconnecting fails with ErrInvalidState.
func (d *Database) Disconnect(reconnect bool) *Future[Status] {
	f := newFuture[Status]()
	if d.Status() == Reconnecting {
		f.complete(Reconnecting, fmt.Errorf("%w: disconnect while reconnecting", ErrInvalidState))
		return f
	}
	go func() {
		if err := d.driver.Close(); err != nil {
			d.log.Warn("error closing %s handle: %v", d.driver.Backend(), err)
		}
		if reconnect {
			d.beginReconnect()
			f.complete(Reconnecting, nil)
			return
		}
		f.complete(Disconnected, nil)
	}()
	return f
}

// Shutdown closes the database for good: pending requests are
// cancelled, the queue stops accepting submissions, and the handle is
// closed. The database ends DISCONNECTED.
func (d *Database) Shutdown() error {
	if !d.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	d.reconnecting.Store(false)
	d.queue.close()
	return d.driver.Close()
}

// beginReconnect marks the database RECONNECTING and starts at most
// one background retry loop.
func (d *Database) beginReconnect() {
	d.reconnecting.Store(true)
	if !d.retrying.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer d.retrying.Store(false)
		for d.reconnecting.Load() && !d.shutdown.Load() {
			if err := d.driver.Open(context.Background()); err == nil {
				d.reconnecting.Store(false)
				d.log.Info("reconnected to %s", d.driver.Backend())
				return
			} else {
				d.log.Warn("reconnect to %s failed: %v", d.driver.Backend(), err)
			}
			time.Sleep(d.reconnectCooldown)
		}
	}()
}

// WaitUntilConnected blocks until the database is CONNECTED or the
// timeout elapses, polling once per reconnect cooldown but at least
// every 100ms.
func (d *Database) WaitUntilConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	granule := d.reconnectCooldown
	if granule <= 0 || granule > 100*time.Millisecond {
		granule = 100 * time.Millisecond
	}
	for {
		if d.driver.Connected() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: still %s after %s", ErrConnectionFailed, d.Status(), timeout)
		}
		time.Sleep(granule)
	}
}

// ensureConnected masks transient drops from request executors: if the
// handle is down and the reconnect policy allows, one synchronous open
// is attempted before the request runs.
func (d *Database) ensureConnected(ctx context.Context) error {
	if d.driver.Connected() {
		return nil
	}
	if !d.willReconnect {
		return fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}
	if err := d.driver.Open(ctx); err != nil {
		d.beginReconnect()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	d.reconnecting.Store(false)
	return nil
}

// Pending returns the number of queued requests.
func (d *Database) Pending() int {
	return d.queue.size()
}

// Drop destroys the backing database: the embedded driver removes its
// file, the server driver issues DROP DATABASE, the document driver
// drops the database object.
func (d *Database) Drop() *Future[bool] {
	return submit(d, func(ctx context.Context) (bool, error) {
		if err := d.driver.DropDatabase(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
}

// registerTable records a table binding. Expected before the first
// request; concurrent registration afterwards is not supported.
func (d *Database) registerTable(name string, info *record.Info) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = info
}

// tableInfo returns the registered record info for a table.
func (d *Database) tableInfo(name string) (*record.Info, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.tables[name]
	return info, ok
}

// reconcileTable creates the table if it is absent, or adds the
// declared columns the live table is missing. Returns true when the
// table was created.
func (d *Database) reconcileTable(ctx context.Context, name string, info *record.Info) (bool, error) {
	exists, err := d.driver.HasTable(ctx, name)
	if err != nil {
		return false, err
	}
	td := d.driver.Table(name, info)
	if !exists {
		if err := td.CreateTable(ctx); err != nil {
			return false, err
		}
		d.log.Info("created table %q", name)
		return true, nil
	}

	columns, err := td.ListColumns(ctx)
	if err != nil {
		return false, err
	}
	current := make(map[string]bool, len(columns))
	for _, c := range columns {
		current[c] = true
	}
	for _, f := range info.Fields {
		if current[f.Name] {
			continue
		}
		if err := td.AddColumn(ctx, f); err != nil {
			return false, err
		}
		d.log.Info("added column %q to table %q", f.Name, name)
	}
	return false, nil
}

// submit places an operation on the queue and returns its future. The
// worker re-establishes the connection first when policy allows, so
// transient drops surface on the next request at worst.
func submit[T any](d *Database, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	var zero T
	if d.shutdown.Load() {
		f.complete(zero, ErrCancelled)
		return f
	}
	err := d.queue.submit(task{
		run: func() {
			ctx := context.Background()
			if err := d.ensureConnected(ctx); err != nil {
				f.complete(zero, err)
				return
			}
			v, err := fn(ctx)
			f.complete(v, err)
		},
		cancel: func() {
			f.complete(zero, ErrCancelled)
		},
	})
	if err != nil {
		f.complete(zero, err)
	}
	return f
}
