package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/query"
	"github.com/squishylib/database/record"
)

// memDriver is an in-memory backend for exercising the database and
// table layers without real storage.
type memDriver struct {
	mu        sync.Mutex
	connected bool
	failOpen  bool
	opens     int
	tables    map[string]*memTable
	gate      chan struct{} // when set, table operations block on it
}

type memTable struct {
	driver  *memDriver
	name    string
	info    *record.Info
	columns []string
	rows    []map[string]any
}

func newMemDriver() *memDriver {
	return &memDriver{tables: map[string]*memTable{}}
}

func (d *memDriver) Backend() datatype.Backend { return datatype.Sqlite }

func (d *memDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.failOpen {
		return fmt.Errorf("open refused")
	}
	d.connected = true
	return nil
}

func (d *memDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *memDriver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *memDriver) HasTable(ctx context.Context, table string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tables[table]
	return ok, nil
}

func (d *memDriver) Table(table string, info *record.Info) TableDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.tables[table]; ok {
		existing.info = info
		return existing
	}
	return &memTable{driver: d, name: table, info: info}
}

func (d *memDriver) DropDatabase(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables = map[string]*memTable{}
	d.connected = false
	return nil
}

func (t *memTable) wait() {
	t.driver.mu.Lock()
	gate := t.driver.gate
	t.driver.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (t *memTable) CreateTable(ctx context.Context) error {
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	for _, f := range t.info.Fields {
		t.columns = append(t.columns, f.Name)
	}
	t.driver.tables[t.name] = t
	return nil
}

func (t *memTable) ListColumns(ctx context.Context) ([]string, error) {
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	return append([]string(nil), t.columns...), nil
}

func (t *memTable) AddColumn(ctx context.Context, f record.Field) error {
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	t.columns = append(t.columns, f.Name)
	return nil
}

func (t *memTable) matches(row map[string]any, q *query.Query) bool {
	for _, c := range q.Conditions() {
		if fmt.Sprint(row[c.Key]) != fmt.Sprint(c.Value) {
			return false
		}
	}
	return true
}

func (t *memTable) FindFirst(ctx context.Context, q *query.Query) (map[string]any, error) {
	rows, err := t.FindAll(ctx, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (t *memTable) FindAll(ctx context.Context, q *query.Query) ([]map[string]any, error) {
	t.wait()
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	var out []map[string]any
	for _, row := range t.rows {
		if t.matches(row, q) {
			out = append(out, row)
		}
		if limit := q.GetLimit(); limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTable) Count(ctx context.Context, q *query.Query) (int64, error) {
	rows, err := t.FindAll(ctx, q)
	return int64(len(rows)), err
}

func (t *memTable) InsertOrUpdate(ctx context.Context, values map[string]any) error {
	t.wait()
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	primary := query.New()
	for _, f := range t.info.Primaries() {
		primary.Match(f.Name, values[f.Name])
	}
	for i, row := range t.rows {
		if t.matches(row, primary) {
			t.rows[i] = values
			return nil
		}
	}
	t.rows = append(t.rows, values)
	return nil
}

func (t *memTable) DeleteAll(ctx context.Context, q *query.Query) (bool, error) {
	t.wait()
	t.driver.mu.Lock()
	defer t.driver.mu.Unlock()
	var kept []map[string]any
	for _, row := range t.rows {
		if !t.matches(row, q) {
			kept = append(kept, row)
		}
	}
	removed := len(kept) < len(t.rows)
	t.rows = kept
	return removed, nil
}

// The fake registers under the sqlite name; driver packages are not
// imported by these tests, so the name is free.
var (
	registerOnce sync.Once
	currentFake  *memDriver
	fakeMu       sync.Mutex
)

func buildTestDatabase(t *testing.T, section *config.Section) (*Database, *memDriver) {
	t.Helper()
	registerOnce.Do(func() {
		Register("sqlite", func(section *config.Section, log *console.Logger) (Driver, error) {
			fakeMu.Lock()
			defer fakeMu.Unlock()
			return currentFake, nil
		})
	})
	fakeMu.Lock()
	currentFake = newMemDriver()
	driver := currentFake
	fakeMu.Unlock()

	section.Set("sqlite.enabled", true)
	if _, ok := section.Get(KeyTimeBetweenRequestsMillis); !ok {
		section.Set(KeyTimeBetweenRequestsMillis, 0)
	}
	db, err := NewBuilder(section).Logger(testLogger()).Build()
	require.NoError(t, err)
	t.Cleanup(func() { db.Shutdown() })
	return db, driver
}

type testRecord struct {
	ID    string `db:"id,primary"`
	Name  string `db:"name"`
	Admin bool   `db:"admin"`
	Coins int64  `db:"coins"`
}

func TestBuilderRequiresExactlyOneBackend(t *testing.T) {
	_, err := NewBuilder(config.New()).Logger(testLogger()).Build()
	assert.ErrorIs(t, err, ErrConfiguration)

	section := config.New().
		Set("sqlite.enabled", true).
		Set("mysql.enabled", true)
	_, err = NewBuilder(section).Logger(testLogger()).Build()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBuilderRejectsUnregisteredBackend(t *testing.T) {
	section := config.New().Set("mongo.enabled", true)
	_, err := NewBuilder(section).Logger(testLogger()).Build()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestConnectLifecycle(t *testing.T) {
	db, driver := buildTestDatabase(t, config.New())

	assert.Equal(t, Disconnected, db.Status())
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, Connected, db.Status())
	assert.True(t, db.IsConnected())

	_, err = db.Disconnect(false).Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, Disconnected, db.Status())
	assert.False(t, driver.Connected())
}

func TestConnectFailureWithoutPolicy(t *testing.T) {
	db, driver := buildTestDatabase(t, config.New())
	driver.failOpen = true

	_, err := db.Connect().Wait(time.Second)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, Disconnected, db.Status())
}

func TestReconnectAfterDisconnect(t *testing.T) {
	section := config.New().
		Set(KeyWillReconnect, true).
		Set(KeyReconnectCooldownMillis, 20)
	db, _ := buildTestDatabase(t, section)

	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	_, err = db.Disconnect(true).Wait(time.Second)
	require.NoError(t, err)
	require.NoError(t, db.WaitUntilConnected(2*time.Second))
	assert.Equal(t, Connected, db.Status())
}

func TestDisconnectWhileReconnectingFails(t *testing.T) {
	section := config.New().
		Set(KeyWillReconnect, true).
		Set(KeyReconnectCooldownMillis, 20)
	db, driver := buildTestDatabase(t, section)

	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	driver.mu.Lock()
	driver.failOpen = true
	driver.mu.Unlock()

	_, err = db.Disconnect(true).Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, Reconnecting, db.Status())

	_, err = db.Disconnect(false).Wait(time.Second)
	assert.ErrorIs(t, err, ErrInvalidState)

	driver.mu.Lock()
	driver.failOpen = false
	driver.mu.Unlock()
	require.NoError(t, db.WaitUntilConnected(2*time.Second))
}

func TestRequestMasksTransientDrop(t *testing.T) {
	section := config.New().Set(KeyWillReconnect, true)
	db, driver := buildTestDatabase(t, section)

	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)
	_, err = table.Create().Wait(time.Second)
	require.NoError(t, err)

	// Drop the handle behind the database's back; the next request
	// reconnects before executing.
	driver.Close()
	count, err := table.Count(nil).Wait(time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
	assert.True(t, db.IsConnected())
}

func TestTableRoundTripThroughFacade(t *testing.T) {
	db, _ := buildTestDatabase(t, config.New())
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)

	created, err := table.Create().Wait(time.Second)
	require.NoError(t, err)
	assert.True(t, created)

	// Creating again reconciles instead of failing.
	created, err = table.Create().Wait(time.Second)
	require.NoError(t, err)
	assert.False(t, created)

	in := &testRecord{ID: "k1", Name: "hello", Admin: true, Coins: 42}
	_, err = table.InsertOrUpdate(in).Wait(time.Second)
	require.NoError(t, err)

	out, err := table.FindFirst(query.New().Match("id", "k1")).Wait(time.Second)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, *in, *out)

	// Upsert with equal primaries replaces the non-primary fields.
	_, err = table.InsertOrUpdate(&testRecord{ID: "k1", Name: "world", Coins: 7}).Wait(time.Second)
	require.NoError(t, err)
	count, err := table.Count(nil).Wait(time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	out, err = table.FindFirst(query.New().Match("id", "k1")).Wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "world", out.Name)

	removed, err := table.DeleteAll(query.New().Match("id", "k1")).Wait(time.Second)
	require.NoError(t, err)
	assert.True(t, removed)
	out, err = table.FindFirst(query.New().Match("id", "k1")).Wait(time.Second)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestInsertRejectsUnsetPrimary(t *testing.T) {
	db, _ := buildTestDatabase(t, config.New())
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)
	_, err = table.Create().Wait(time.Second)
	require.NoError(t, err)

	_, err = table.InsertOrUpdate(&testRecord{Name: "nameless"}).Wait(time.Second)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReconcileAddsMissingColumns(t *testing.T) {
	db, driver := buildTestDatabase(t, config.New())
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)
	_, err = table.Create().Wait(time.Second)
	require.NoError(t, err)

	// A later startup declares an extra field on the same table.
	type grown struct {
		ID    string `db:"id,primary"`
		Name  string `db:"name"`
		Admin bool   `db:"admin"`
		Coins int64  `db:"coins"`
		Email string `db:"email"`
	}
	bigger, err := NewTable[*grown](db, "players")
	require.NoError(t, err)
	created, err := bigger.Create().Wait(time.Second)
	require.NoError(t, err)
	assert.False(t, created)

	columns, err := driver.tables["players"].ListColumns(context.Background())
	require.NoError(t, err)
	assert.Contains(t, columns, "email")
}

func TestQueueOverflowThroughDatabase(t *testing.T) {
	section := config.New().Set(KeyMaxRequestsPending, 3)
	db, driver := buildTestDatabase(t, section)
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)
	_, err = table.Create().Wait(time.Second)
	require.NoError(t, err)

	gate := make(chan struct{})
	driver.mu.Lock()
	driver.gate = gate
	driver.mu.Unlock()

	// One in flight blocking the worker, three pending.
	futures := []*Future[int64]{table.Count(nil)}
	deadline := time.Now().Add(time.Second)
	for db.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		futures = append(futures, table.Count(nil))
	}

	_, err = table.Count(nil).Wait(time.Second)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = table.Count(nil).Wait(time.Second)
	assert.ErrorIs(t, err, ErrCancelled)

	driver.mu.Lock()
	driver.gate = nil
	driver.mu.Unlock()
	close(gate)

	for _, f := range futures {
		_, err := f.Wait(2 * time.Second)
		require.NoError(t, err)
	}

	_, err = table.Count(nil).Wait(2 * time.Second)
	require.NoError(t, err)
}

func TestCompletionListeners(t *testing.T) {
	db, _ := buildTestDatabase(t, config.New())
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)
	_, err = table.Create().Wait(time.Second)
	require.NoError(t, err)

	done := make(chan int64, 1)
	table.Count(nil).Listen(func(n int64, err error) {
		if err == nil {
			done <- n
		}
	})
	select {
	case n := <-done:
		assert.EqualValues(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not run")
	}
}

func TestShutdownCancelsPending(t *testing.T) {
	db, driver := buildTestDatabase(t, config.New())
	_, err := db.Connect().Wait(time.Second)
	require.NoError(t, err)

	table, err := NewTable[*testRecord](db, "players")
	require.NoError(t, err)
	_, err = table.Create().Wait(time.Second)
	require.NoError(t, err)

	gate := make(chan struct{})
	driver.mu.Lock()
	driver.gate = gate
	driver.mu.Unlock()

	inflight := table.Count(nil)
	deadline := time.Now().Add(time.Second)
	for db.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	pending := table.Count(nil)

	require.NoError(t, db.Shutdown())
	close(gate)

	_, err = pending.Wait(time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = inflight.Wait(time.Second)
	require.NoError(t, err)

	_, err = table.Count(nil).Wait(time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
}
