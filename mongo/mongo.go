// Package mongo is the document backend. Importing the package
// registers the driver under "mongo". The backend is schemaless:
// column listing echoes the declared fields, column addition is a
// no-op, and upsert is emulated with a delete of the primary filter
// followed by an insert.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/squishylib/database"
	"github.com/squishylib/database/config"
	"github.com/squishylib/database/console"
	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/query"
	"github.com/squishylib/database/record"
)

func init() {
	database.Register("mongo", New)
}

const probeTimeout = 2 * time.Second

// Driver connects to a MongoDB deployment and scopes all operations
// to one database.
type Driver struct {
	uri    string
	dbName string
	log    *console.Logger

	mu     sync.RWMutex
	client *mongodrv.Client
	db     *mongodrv.Database
}

// New reads mongo.connection_string and mongo.database_name from the
// section.
func New(section *config.Section, log *console.Logger) (database.Driver, error) {
	d := &Driver{
		uri:    section.GetString("mongo.connection_string", ""),
		dbName: section.GetString("mongo.database_name", ""),
		log:    log,
	}
	if d.uri == "" || d.dbName == "" {
		return nil, fmt.Errorf("%w: mongo needs connection_string and database_name", database.ErrConfiguration)
	}
	return d, nil
}

func (d *Driver) Backend() datatype.Backend {
	return datatype.Mongo
}

// Open connects the client and verifies the deployment with a ping.
// Opening an already-open driver is a no-op.
func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		if d.ping(ctx) == nil {
			return nil
		}
		d.client.Disconnect(ctx)
		d.client = nil
		d.db = nil
	}

	client, err := mongodrv.Connect(ctx, options.Client().ApplyURI(d.uri))
	if err != nil {
		return database.WrapDriverError(datatype.Mongo, "open", d.uri, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return database.WrapDriverError(datatype.Mongo, "open", d.uri, err)
	}
	d.client = client
	d.db = client.Database(d.dbName)
	d.log.Debug("connected to %s", d.dbName)
	return nil
}

func (d *Driver) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return d.client.Ping(pingCtx, readpref.Primary())
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	err := d.client.Disconnect(ctx)
	d.client = nil
	d.db = nil
	return err
}

// Connected probes the deployment with a short ping.
func (d *Driver) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client != nil && d.ping(context.Background()) == nil
}

func (d *Driver) database() *mongodrv.Database {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// HasTable checks collection existence by name.
func (d *Driver) HasTable(ctx context.Context, table string) (bool, error) {
	names, err := d.database().ListCollectionNames(ctx, bson.M{"name": table})
	if err != nil {
		return false, database.WrapDriverError(datatype.Mongo, "has_table", table, err)
	}
	return len(names) > 0, nil
}

func (d *Driver) Table(table string, info *record.Info) database.TableDriver {
	return &tableDriver{driver: d, name: table, info: info}
}

// DropDatabase drops the scoped database object.
func (d *Driver) DropDatabase(ctx context.Context) error {
	if err := d.database().Drop(ctx); err != nil {
		return database.WrapDriverError(datatype.Mongo, "drop_database", d.dbName, err)
	}
	d.log.Info("dropped database %s", d.dbName)
	return nil
}

type tableDriver struct {
	driver *Driver
	name   string
	info   *record.Info
}

func (t *tableDriver) collection() *mongodrv.Collection {
	return t.driver.database().Collection(t.name)
}

func (t *tableDriver) CreateTable(ctx context.Context) error {
	err := t.driver.database().CreateCollection(ctx, t.name)
	if err != nil {
		// Racing creators are fine; the collection exists either way.
		var cmdErr mongodrv.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
			return nil
		}
		return database.WrapDriverError(datatype.Mongo, "create_table", t.name, err)
	}
	return nil
}

// ListColumns returns the declared field list verbatim; documents have
// no schema to consult.
func (t *tableDriver) ListColumns(ctx context.Context) ([]string, error) {
	names := make([]string, len(t.info.Fields))
	for i, f := range t.info.Fields {
		names[i] = f.Name
	}
	return names, nil
}

// AddColumn is a no-op success; document fields appear on write.
func (t *tableDriver) AddColumn(ctx context.Context, f record.Field) error {
	return nil
}

func (t *tableDriver) filter(q *query.Query) (bson.D, error) {
	conditions, err := q.DocumentFilter(datatype.Mongo)
	if err != nil {
		return nil, err
	}
	filter := bson.D{}
	for _, c := range conditions {
		filter = append(filter, bson.E{Key: c.Key, Value: c.Value})
	}
	return filter, nil
}

func sortDoc(q *query.Query) bson.D {
	order := q.GetOrder()
	if order == nil {
		return nil
	}
	dir := 1
	if order.Direction == query.Descending {
		dir = -1
	}
	return bson.D{{Key: order.Key, Value: dir}}
}

func (t *tableDriver) FindFirst(ctx context.Context, q *query.Query) (map[string]any, error) {
	filter, err := t.filter(q)
	if err != nil {
		return nil, err
	}
	opts := options.FindOne()
	if sort := sortDoc(q); sort != nil {
		opts.SetSort(sort)
	}

	var doc bson.M
	err = t.collection().FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongodrv.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, database.WrapDriverError(datatype.Mongo, "find_first", fmt.Sprint(filter), err)
	}
	return t.decode(doc)
}

func (t *tableDriver) FindAll(ctx context.Context, q *query.Query) ([]map[string]any, error) {
	filter, err := t.filter(q)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if sort := sortDoc(q); sort != nil {
		opts.SetSort(sort)
	}
	if limit := q.GetLimit(); limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := t.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, database.WrapDriverError(datatype.Mongo, "find_all", fmt.Sprint(filter), err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, database.WrapDriverError(datatype.Mongo, "find_all", fmt.Sprint(filter), err)
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		decoded, err := t.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (t *tableDriver) Count(ctx context.Context, q *query.Query) (int64, error) {
	filter, err := t.filter(q)
	if err != nil {
		return 0, err
	}
	count, err := t.collection().CountDocuments(ctx, filter)
	if err != nil {
		return 0, database.WrapDriverError(datatype.Mongo, "count", fmt.Sprint(filter), err)
	}
	return count, nil
}

// InsertOrUpdate is emulated: any document matching the primary filter
// is removed, then the new document is inserted.
func (t *tableDriver) InsertOrUpdate(ctx context.Context, values map[string]any) error {
	doc := bson.D{}
	primaryQuery := query.New()
	for _, f := range t.info.Fields {
		wire, err := f.Type.ToWire(values[f.Name], datatype.Mongo)
		if err != nil {
			return err
		}
		doc = append(doc, bson.E{Key: f.Name, Value: wire})
		if f.Primary {
			if values[f.Name] == nil {
				return fmt.Errorf("%w: primary field %q has no value", database.ErrInvalidState, f.Name)
			}
			primaryQuery.Match(f.Name, values[f.Name])
		}
	}

	filter, err := t.filter(primaryQuery)
	if err != nil {
		return err
	}
	if _, err := t.collection().DeleteMany(ctx, filter); err != nil {
		return database.WrapDriverError(datatype.Mongo, "insert_or_update", fmt.Sprint(filter), err)
	}
	if _, err := t.collection().InsertOne(ctx, doc); err != nil {
		return database.WrapDriverError(datatype.Mongo, "insert_or_update", t.name, err)
	}
	return nil
}

func (t *tableDriver) DeleteAll(ctx context.Context, q *query.Query) (bool, error) {
	filter, err := t.filter(q)
	if err != nil {
		return false, err
	}
	result, err := t.collection().DeleteMany(ctx, filter)
	if err != nil {
		return false, database.WrapDriverError(datatype.Mongo, "delete_all", fmt.Sprint(filter), err)
	}
	return result.DeletedCount > 0, nil
}

// decode normalizes BSON container types to plain Go values, then runs
// the row through the data-type bridge.
func (t *tableDriver) decode(doc bson.M) (map[string]any, error) {
	view := datatype.MapRow{}
	for k, v := range doc {
		view[k] = normalize(v)
	}
	return database.DecodeRow(t.info, view, datatype.Mongo)
}

func normalize(v any) any {
	switch tv := v.(type) {
	case bson.M:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(tv))
		for _, e := range tv {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalize(e)
		}
		return out
	case primitive.DateTime:
		return tv.Time()
	case primitive.ObjectID:
		return tv.Hex()
	default:
		return v
	}
}
