// Package memory implements an embedded backend on top of buntdb. memory:// keeps every row in
// memory, buntdb:// persists the rows to a file.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/sqldriver"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/tidwall/buntdb"
	"github.com/vmihailenco/msgpack/v5"
)

type memoryBackend struct {
	logger logger.Logger
	db     *buntdb.DB
	once   sync.Once
}

var _ internal.Backend = (*memoryBackend)(nil)
var _ internal.BackendHelp = (*memoryBackend)(nil)
var _ internal.BackendAlias = (*memoryBackend)(nil)

// filenameFromURL returns the buntdb path for the url.
func filenameFromURL(urlstr string) (string, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing url: %w", err)
	}
	if u.Scheme == "memory" {
		return ":memory:", nil
	}
	path := u.Host + u.Path
	if path == "" {
		return "", fmt.Errorf("missing file path in url: %s", urlstr)
	}
	return path, nil
}

func open(urlstr string) (*buntdb.DB, error) {
	filename, err := filenameFromURL(urlstr)
	if err != nil {
		return nil, err
	}
	db, err := buntdb.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if filename != ":memory:" {
		var dbcfg buntdb.Config
		if err := db.ReadConfig(&dbcfg); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to read db config: %w", err)
		}
		dbcfg.SyncPolicy = buntdb.EverySecond
		if err := db.SetConfig(dbcfg); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set db config: %w", err)
		}
	}
	return db, nil
}

// New returns a started in-memory backend.
func New(log logger.Logger) (internal.Backend, error) {
	b := &memoryBackend{}
	if err := b.Start(internal.BackendConfig{Context: context.Background(), URL: "memory://", Logger: log}); err != nil {
		return nil, err
	}
	return b, nil
}

// Start the backend. This is called once at the beginning of the backend's lifecycle.
func (b *memoryBackend) Start(config internal.BackendConfig) error {
	db, err := open(config.URL)
	if err != nil {
		return err
	}
	b.db = db
	b.logger = config.Logger
	return nil
}

// Stop the backend. This is called once at the end of the backend's lifecycle.
func (b *memoryBackend) Stop() error {
	b.logger.Debug("stopping")
	var err error
	b.once.Do(func() {
		if b.db != nil {
			err = b.db.Close()
		}
	})
	b.logger.Debug("stopped")
	return err
}

// Begin starts a writable transaction. Writable transactions are serialized by buntdb.
func (b *memoryBackend) Begin(ctx context.Context) (internal.Txn, error) {
	if b.db == nil {
		return nil, internal.ErrBackendStopped
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := b.db.Begin(true)
	if err != nil {
		if err == buntdb.ErrDatabaseClosed {
			return nil, internal.ErrBackendStopped
		}
		return nil, internal.NewBackendUnavailableError("begin", err)
	}
	return &txn{tx: tx, logger: b.logger}, nil
}

// Name is a unique name for the backend.
func (b *memoryBackend) Name() string {
	return "Memory"
}

// Description is the description of the backend.
func (b *memoryBackend) Description() string {
	return "Stores entities in an embedded buntdb database, in memory or in a file."
}

// ExampleURL should return an example URL for configuring the backend.
func (b *memoryBackend) ExampleURL() string {
	return "memory://"
}

// Help should return a detailed help documentation for the backend.
func (b *memoryBackend) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("Storage", "memory:// keeps the rows in memory and loses them on exit.\nbuntdb://path/to/file.db persists the rows to a file.\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("Constraints", "Unique fields and foreign keys are enforced from the registered schema.\n"))
	return help.String()
}

func (b *memoryBackend) Aliases() []string {
	return []string{"buntdb"}
}

// Test is called to test the backend connectivity with the configured url. It should return an error if the test fails or nil if the test passes.
func (b *memoryBackend) Test(ctx context.Context, logger logger.Logger, url string) error {
	db, err := open(url)
	if err != nil {
		return err
	}
	return db.Close()
}

func rowKey(entity *internal.EntityType, pk string) string {
	return entity.TableName() + ":r:" + pk
}

func uniqueKey(entity *internal.EntityType, field string, value string) string {
	return entity.TableName() + ":u:" + field + ":" + value
}

func sequenceKey(entity *internal.EntityType) string {
	return entity.TableName() + ":seq"
}

func formatKey(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

type txn struct {
	tx     *buntdb.Tx
	logger logger.Logger
	done   bool
}

var _ internal.Txn = (*txn)(nil)

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("unable to rollback transaction: %w", err)
	}
	return nil
}

func (t *txn) get(key string) (string, bool, error) {
	val, err := t.tx.Get(key)
	if err != nil {
		if err == buntdb.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (t *txn) exists(key string) (bool, error) {
	_, found, err := t.get(key)
	return found, err
}

// nextSequence returns the next free autoincrement value.
func (t *txn) nextSequence(entity *internal.EntityType) (int64, error) {
	val, found, err := t.get(sequenceKey(entity))
	if err != nil {
		return 0, err
	}
	var seq int64
	if found {
		if seq, err = strconv.ParseInt(val, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid sequence for %s: %w", entity.TableName(), err)
		}
	}
	for {
		seq++
		found, err := t.exists(rowKey(entity, strconv.FormatInt(seq, 10)))
		if err != nil {
			return 0, err
		}
		if !found {
			return seq, nil
		}
	}
}

// bumpSequence moves the sequence past an explicitly supplied key.
func (t *txn) bumpSequence(entity *internal.EntityType, pk int64) error {
	val, found, err := t.get(sequenceKey(entity))
	if err != nil {
		return err
	}
	if found {
		seq, err := strconv.ParseInt(val, 10, 64)
		if err == nil && seq >= pk {
			return nil
		}
	}
	_, _, err = t.tx.Set(sequenceKey(entity), strconv.FormatInt(pk, 10), nil)
	return err
}

// conflict returns the first unique field whose value is already taken.
func (t *txn) conflict(entity *internal.EntityType, values map[string]any) (string, any, error) {
	for _, f := range entity.UniqueFields() {
		v, ok := values[f.Name]
		if !ok || v == nil {
			continue
		}
		var key string
		if f.ID {
			key = rowKey(entity, formatKey(v))
		} else {
			key = uniqueKey(entity, f.Name, formatKey(v))
		}
		found, err := t.exists(key)
		if err != nil {
			return "", nil, err
		}
		if found {
			return f.Name, v, nil
		}
	}
	return "", nil, nil
}

// checkReferences verifies every foreign key points at an existing row.
func (t *txn) checkReferences(entity *internal.EntityType, values map[string]any) error {
	for _, rel := range entity.Relations {
		if rel.Cardinality != internal.ManyToOne {
			continue
		}
		v, ok := values[rel.ForeignKey]
		if !ok || v == nil {
			continue
		}
		target := entity.Target(rel.Name)
		found, err := t.exists(rowKey(target, formatKey(v)))
		if err != nil {
			return err
		}
		if !found {
			return &internal.DanglingReferenceError{Entity: target.Name, Key: v}
		}
	}
	return nil
}

func (t *txn) write(entity *internal.EntityType, values map[string]any) error {
	stored := make(map[string]any, len(entity.Fields))
	for _, f := range entity.Fields {
		v, err := sqldriver.BindValue(f, values[f.Name])
		if err != nil {
			return err
		}
		stored[f.Name] = v
	}
	buf, err := msgpack.Marshal(stored)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", entity.Name, err)
	}
	pk := formatKey(values[entity.PrimaryKey().Name])
	if _, _, err := t.tx.Set(rowKey(entity, pk), string(buf), nil); err != nil {
		return err
	}
	return nil
}

func (t *txn) read(entity *internal.EntityType, val string) (*internal.Row, error) {
	dec := msgpack.NewDecoder(bytes.NewReader([]byte(val)))
	dec.UseLooseInterfaceDecoding(true)
	var stored map[string]any
	if err := dec.Decode(&stored); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", entity.Name, err)
	}
	row := internal.NewRow(entity)
	for _, f := range entity.Fields {
		v, err := sqldriver.Convert(f, stored[f.Name])
		if err != nil {
			return nil, err
		}
		row.Values[f.Name] = v
	}
	return row, nil
}

// insert writes the row and its unique index entries. It returns a nil key and no error if the
// row conflicts and skip is true.
func (t *txn) insert(ctx context.Context, entity *internal.EntityType, values map[string]any, skip bool) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(entity.Fields))
	for k, v := range values {
		row[k] = v
	}
	pk := entity.PrimaryKey()
	if v, ok := row[pk.Name]; !ok || v == nil {
		if !pk.BackendGenerated() {
			return nil, fmt.Errorf("missing primary key %s for %s", pk.Name, entity.Name)
		}
		seq, err := t.nextSequence(entity)
		if err != nil {
			return nil, internal.NewBackendUnavailableError("insert", err)
		}
		row[pk.Name] = seq
	}
	field, value, err := t.conflict(entity, row)
	if err != nil {
		return nil, internal.NewBackendUnavailableError("insert", err)
	}
	if field != "" {
		if skip {
			t.logger.Trace("skipping %s, %s=%v already exists", entity.Name, field, value)
			return nil, nil
		}
		return nil, &internal.UniqueConstraintError{Entity: entity.Name, Field: field, Value: value}
	}
	if err := t.checkReferences(entity, row); err != nil {
		return nil, err
	}
	if err := t.write(entity, row); err != nil {
		return nil, err
	}
	key := row[pk.Name]
	if pk.BackendGenerated() {
		if n, ok := key.(int64); ok {
			if err := t.bumpSequence(entity, n); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range entity.UniqueFields() {
		if f.ID || row[f.Name] == nil {
			continue
		}
		if _, _, err := t.tx.Set(uniqueKey(entity, f.Name, formatKey(row[f.Name])), formatKey(key), nil); err != nil {
			return nil, err
		}
	}
	t.logger.Trace("inserted %s %v", entity.Name, key)
	return key, nil
}

func (t *txn) InsertRow(ctx context.Context, entity *internal.EntityType, values map[string]any) (any, error) {
	return t.insert(ctx, entity, values, false)
}

func (t *txn) InsertBatch(ctx context.Context, entity *internal.EntityType, rows []map[string]any, onConflict internal.OnConflict) ([]any, error) {
	keys := make([]any, 0, len(rows))
	for _, row := range rows {
		key, err := t.insert(ctx, entity, row, onConflict == internal.OnConflictSkip)
		if err != nil {
			return nil, err
		}
		if key != nil {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (t *txn) UpdateForeignKey(ctx context.Context, entity *internal.EntityType, pk any, field string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := t.LookupByPrimaryKey(ctx, entity, pk)
	if err != nil {
		return err
	}
	if row == nil {
		return &internal.DanglingReferenceError{Entity: entity.Name, Key: pk}
	}
	f, ok := entity.Field(field)
	if !ok {
		return fmt.Errorf("unknown field %s on %s", field, entity.Name)
	}
	values := row.Values
	old := values[field]
	values[field] = value
	if err := t.checkReferences(entity, values); err != nil {
		return err
	}
	if f.Unique && value != nil {
		key := uniqueKey(entity, field, formatKey(value))
		owner, found, err := t.get(key)
		if err != nil {
			return internal.NewBackendUnavailableError("update", err)
		}
		if found && owner != formatKey(pk) {
			return &internal.UniqueConstraintError{Entity: entity.Name, Field: field, Value: value}
		}
		if _, _, err := t.tx.Set(key, formatKey(pk), nil); err != nil {
			return err
		}
	}
	if f.Unique && old != nil && formatKey(old) != formatKey(value) {
		if _, err := t.tx.Delete(uniqueKey(entity, field, formatKey(old))); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return t.write(entity, values)
}

func (t *txn) LookupByPrimaryKey(ctx context.Context, entity *internal.EntityType, pk any) (*internal.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, found, err := t.get(rowKey(entity, formatKey(pk)))
	if err != nil {
		return nil, internal.NewBackendUnavailableError("lookup", err)
	}
	if !found {
		return nil, nil
	}
	return t.read(entity, val)
}

func init() {
	internal.RegisterBackend("memory", func() internal.Backend { return &memoryBackend{} })
}
