// Package sqldriver implements the transaction side of the sql backends. Each database
// package supplies a Dialect which builds the dialect specific insert statements and
// recognizes the database constraint errors.
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/go-common/logger"
)

// Querier is the subset of *sql.Tx used by dialects.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is the database specific part of a sql backend.
type Dialect interface {
	// Builder returns the statement builder with the placeholder format of the database.
	Builder() squirrel.StatementBuilderType
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string
	// Insert inserts a single row and returns the primary key.
	Insert(ctx context.Context, q Querier, entity *internal.EntityType, values map[string]any) (any, error)
	// InsertBatch inserts the rows in order and returns the keys of the inserted rows.
	InsertBatch(ctx context.Context, q Querier, entity *internal.EntityType, rows []map[string]any, onConflict internal.OnConflict) ([]any, error)
	// UniqueViolation returns the violation if err is a unique constraint error.
	UniqueViolation(err error) (Violation, bool)
	// ForeignKeyViolation returns true if err is a foreign key constraint error.
	ForeignKeyViolation(err error) bool
	// ConnectionError returns true if err is a database specific connection failure.
	ConnectionError(err error) bool
	// CanProbe returns true if the transaction is still usable after a failed statement.
	CanProbe() bool
}

// Backend is the shared part of the sql backends.
type Backend struct {
	DB      *sql.DB
	Dialect Dialect
	Logger  logger.Logger
}

// Begin starts a new transaction.
func (b *Backend) Begin(ctx context.Context) (internal.Txn, error) {
	if b.DB == nil {
		return nil, internal.ErrBackendStopped
	}
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, internal.NewBackendUnavailableError("begin", fmt.Errorf("unable to start transaction: %w", err))
	}
	return &Txn{tx: tx, dialect: b.Dialect, logger: b.Logger}, nil
}

// Stop closes the database.
func (b *Backend) Stop() error {
	if b.DB == nil {
		return nil
	}
	b.Logger.Debug("stopping")
	err := b.DB.Close()
	b.DB = nil
	b.Logger.Debug("stopped")
	return err
}

// Ping tests the connection to the database.
func Ping(ctx context.Context, db *sql.DB) error {
	pingctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingctx); err != nil {
		return fmt.Errorf("unable to ping db: %w", err)
	}
	return nil
}

// Txn is a sql transaction.
type Txn struct {
	tx      *sql.Tx
	dialect Dialect
	logger  logger.Logger
	done    bool
}

var _ internal.Txn = (*Txn)(nil)

// Commit the transaction.
func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	return nil
}

// Rollback the transaction.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("unable to rollback transaction: %w", err)
	}
	return nil
}

// InsertRow inserts a single row and returns its primary key.
func (t *Txn) InsertRow(ctx context.Context, entity *internal.EntityType, values map[string]any) (any, error) {
	pk, err := t.dialect.Insert(ctx, t.tx, entity, values)
	if err != nil {
		return nil, t.classify(ctx, "insert", entity, []map[string]any{values}, err)
	}
	return pk, nil
}

// InsertBatch inserts the rows and returns the keys of the inserted rows.
func (t *Txn) InsertBatch(ctx context.Context, entity *internal.EntityType, rows []map[string]any, onConflict internal.OnConflict) ([]any, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	keys, err := t.dialect.InsertBatch(ctx, t.tx, entity, rows, onConflict)
	if err != nil {
		return nil, t.classify(ctx, "insert batch", entity, rows, err)
	}
	return keys, nil
}

// UpdateForeignKey sets the foreign key of the row with the primary key.
func (t *Txn) UpdateForeignKey(ctx context.Context, entity *internal.EntityType, pk any, field string, value any) error {
	f, ok := entity.Field(field)
	if !ok {
		return fmt.Errorf("unknown field %s on %s", field, entity.Name)
	}
	q := t.dialect.QuoteIdentifier
	sql, args, err := t.dialect.Builder().
		Update(q(entity.TableName())).
		Set(q(f.ColumnName()), value).
		Where(squirrel.Eq{q(entity.PrimaryKey().ColumnName()): pk}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building update: %w", err)
	}
	t.logger.Trace("sql: %s", sql)
	res, err := t.tx.ExecContext(ctx, sql, args...)
	if err != nil {
		return t.classify(ctx, "update", entity, []map[string]any{{field: value}}, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if count == 0 {
		return &internal.DanglingReferenceError{Entity: entity.Name, Key: pk}
	}
	return nil
}

// LookupByPrimaryKey returns the row or nil if not found.
func (t *Txn) LookupByPrimaryKey(ctx context.Context, entity *internal.EntityType, pk any) (*internal.Row, error) {
	q := t.dialect.QuoteIdentifier
	columns := make([]string, len(entity.Fields))
	for i, f := range entity.Fields {
		columns[i] = q(f.ColumnName())
	}
	sql, args, err := t.dialect.Builder().
		Select(columns...).
		From(q(entity.TableName())).
		Where(squirrel.Eq{q(entity.PrimaryKey().ColumnName()): pk}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building select: %w", err)
	}
	t.logger.Trace("sql: %s", sql)
	rows, err := t.tx.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, t.classify(ctx, "lookup", entity, nil, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, t.classify(ctx, "lookup", entity, nil, err)
		}
		return nil, nil
	}
	row, err := ScanRow(entity, rows)
	if err != nil {
		return nil, err
	}
	return row, rows.Err()
}

// ScanRow scans the current result row, which must select every field in declaration order.
func ScanRow(entity *internal.EntityType, rows *sql.Rows) (*internal.Row, error) {
	raw := make([]any, len(entity.Fields))
	dest := make([]any, len(entity.Fields))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("error scanning %s: %w", entity.Name, err)
	}
	row := internal.NewRow(entity)
	for i, f := range entity.Fields {
		v, err := Convert(f, raw[i])
		if err != nil {
			return nil, err
		}
		row.Values[f.Name] = v
	}
	return row, nil
}

// lookupDuplicate looks for the first row whose value for the unique field already exists.
func (t *Txn) lookupDuplicate(ctx context.Context, entity *internal.EntityType, rows []map[string]any, field string) any {
	f, _ := entity.Field(field)
	q := t.dialect.QuoteIdentifier
	for _, row := range rows {
		if ctx.Err() != nil {
			return nil
		}
		val := row[field]
		if val == nil {
			continue
		}
		bound, err := BindValue(f, val)
		if err != nil {
			continue
		}
		sql, args, err := t.dialect.Builder().
			Select("1").
			From(q(entity.TableName())).
			Where(squirrel.Eq{q(f.ColumnName()): bound}).
			ToSql()
		if err != nil {
			return nil
		}
		var one int
		if err := t.tx.QueryRowContext(ctx, sql, args...).Scan(&one); err == nil {
			return val
		}
	}
	return nil
}

// Bind returns the quoted columns and bound values of the fields.
func Bind(d Dialect, fields []*internal.ScalarField, values map[string]any) ([]string, []any, error) {
	columns := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		v, err := BindValue(f, values[f.Name])
		if err != nil {
			return nil, nil, err
		}
		columns[i] = d.QuoteIdentifier(f.ColumnName())
		args[i] = v
	}
	return columns, args, nil
}

// Groups splits the rows into runs of consecutive rows with the same set of columns.
func Groups(entity *internal.EntityType, rows []map[string]any) [][]map[string]any {
	var groups [][]map[string]any
	var last string
	for i, row := range rows {
		key := ColumnKey(Columns(entity, row))
		if i == 0 || key != last {
			groups = append(groups, nil)
			last = key
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], row)
	}
	return groups
}

// InsertReturning runs INSERT ... RETURNING statements built by squirrel, used by databases which support RETURNING.
// The suffix is placed before RETURNING, for example ON CONFLICT DO NOTHING.
func InsertReturning(ctx context.Context, q Querier, d Dialect, logger logger.Logger, entity *internal.EntityType, rows []map[string]any, suffix string) ([]any, error) {
	var keys []any
	quote := d.QuoteIdentifier
	returning := joinSuffix(suffix, "RETURNING "+quote(entity.PrimaryKey().ColumnName()))
	for _, group := range Groups(entity, rows) {
		fields := Columns(entity, group[0])
		if len(fields) == 0 {
			// nothing to bind, every value comes from the column defaults
			sql := "INSERT INTO " + quote(entity.TableName()) + " DEFAULT VALUES " + returning
			for range group {
				res, err := QueryKeys(ctx, q, logger, entity, sql, nil)
				if err != nil {
					return nil, err
				}
				keys = append(keys, res...)
			}
			continue
		}
		columns, _, err := Bind(d, fields, group[0])
		if err != nil {
			return nil, err
		}
		builder := d.Builder().Insert(quote(entity.TableName())).Columns(columns...)
		for _, row := range group {
			_, vals, err := Bind(d, fields, row)
			if err != nil {
				return nil, err
			}
			builder = builder.Values(vals...)
		}
		sql, args, err := builder.Suffix(returning).ToSql()
		if err != nil {
			return nil, fmt.Errorf("error building insert: %w", err)
		}
		res, err := QueryKeys(ctx, q, logger, entity, sql, args)
		if err != nil {
			return nil, err
		}
		keys = append(keys, OrderKeys(entity, group, res)...)
	}
	return keys, nil
}

// OrderKeys puts the keys returned by a multi-row INSERT ... RETURNING into the order of the rows,
// since neither postgres nor sqlite promise an order for the returned rows. Supplied keys are
// matched to their row. Generated integer keys come from a sequence which hands them out in
// VALUES order, so they are sorted ascending. Other generated keys are returned as is.
func OrderKeys(entity *internal.EntityType, rows []map[string]any, keys []any) []any {
	if len(keys) < 2 {
		return keys
	}
	pk := entity.PrimaryKey()
	if _, ok := rows[0][pk.Name]; ok {
		returned := make(map[string]any, len(keys))
		for _, key := range keys {
			returned[fmt.Sprint(key)] = key
		}
		ordered := make([]any, 0, len(keys))
		for _, row := range rows {
			id := fmt.Sprint(row[pk.Name])
			if key, ok := returned[id]; ok {
				ordered = append(ordered, key)
				delete(returned, id)
			}
		}
		if len(ordered) == len(keys) {
			return ordered
		}
		return keys
	}
	ints := make([]int64, len(keys))
	for i, key := range keys {
		v, ok := key.(int64)
		if !ok {
			return keys
		}
		ints[i] = v
	}
	slices.Sort(ints)
	ordered := make([]any, len(ints))
	for i, v := range ints {
		ordered[i] = v
	}
	return ordered
}

// QueryKeys runs a statement which returns the primary keys of the inserted rows.
func QueryKeys(ctx context.Context, q Querier, logger logger.Logger, entity *internal.EntityType, sql string, args []any) ([]any, error) {
	logger.Trace("sql: %s", sql)
	rows, err := q.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []any
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("error scanning key: %w", err)
		}
		key, err := ConvertKey(entity, raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func joinSuffix(suffix string, returning string) string {
	if suffix == "" {
		return returning
	}
	return suffix + " " + returning
}
