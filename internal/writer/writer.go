// Package writer performs the inserts of a create inside a caller supplied transaction.
package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// DefaultMaxRows is the default number of rows sent to the backend per batch statement.
const DefaultMaxRows = 500

// maxParameters is the bind parameter limit of postgres, the lowest of the sql backends
// which insert many rows per statement.
const maxParameters = 65535

// Executor writes rows.
type Executor struct {
	logger  logger.Logger
	maxRows int
}

// New returns an executor which sends at most maxRows rows per batch statement, 0 uses DefaultMaxRows.
func New(log logger.Logger, maxRows int) *Executor {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Executor{logger: log.WithPrefix("[writer]"), maxRows: maxRows}
}

// Insert inserts a single row and returns the row as stored, including backend generated values.
func (e *Executor) Insert(ctx context.Context, txn internal.Txn, entity *internal.EntityType, values map[string]any) (*internal.Row, error) {
	pk, err := txn.InsertRow(ctx, entity, values)
	if err != nil {
		return nil, err
	}
	row, err := e.readBack(ctx, txn, entity, pk)
	if err != nil {
		return nil, err
	}
	internal.RowsInserted.Inc()
	e.logger.Trace("inserted %s %v", entity.Name, pk)
	return row, nil
}

func (e *Executor) readBack(ctx context.Context, txn internal.Txn, entity *internal.EntityType, pk any) (*internal.Row, error) {
	row, err := txn.LookupByPrimaryKey(ctx, entity, pk)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("inserted %s with key %v not found", entity.Name, pk)
	}
	return row, nil
}

func (e *Executor) chunkSize(entity *internal.EntityType) int {
	size := e.maxRows
	if n := maxParameters / len(entity.Fields); n < size {
		size = n
	}
	return size
}

// InsertMany inserts the rows in order. Duplicates within the rows are detected before anything
// is written: without skipDuplicates the first one fails the batch with a UniqueConstraintError,
// with skipDuplicates the later occurrences are dropped and rows which conflict with stored rows
// are skipped by the backend. The inserted rows are read back when readBack is true.
func (e *Executor) InsertMany(ctx context.Context, txn internal.Txn, entity *internal.EntityType, rows []map[string]any, skipDuplicates bool, readBack bool) (*internal.BatchResult, error) {
	started := time.Now()
	internal.BatchSize.Observe(float64(len(rows)))

	var unique []string
	for _, f := range entity.UniqueFields() {
		unique = append(unique, f.Name)
	}
	onConflict := internal.OnConflictAbort
	if skipDuplicates {
		onConflict = internal.OnConflictSkip
	}

	batcher := util.NewBatcher()
	var skipped int
	for _, row := range rows {
		if dup := batcher.Add(row, unique); dup != nil {
			if !skipDuplicates {
				return nil, &internal.UniqueConstraintError{Entity: entity.Name, Field: dup.Field, Value: dup.Value}
			}
			skipped++
		}
	}

	var result internal.BatchResult
	for _, chunk := range batcher.Chunks(e.chunkSize(entity)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys, err := txn.InsertBatch(ctx, entity, chunk, onConflict)
		if err != nil {
			return nil, err
		}
		skipped += len(chunk) - len(keys)
		result.Count += len(keys)
		if !readBack {
			continue
		}
		for _, pk := range keys {
			row, err := e.readBack(ctx, txn, entity, pk)
			if err != nil {
				return nil, err
			}
			result.Rows = append(result.Rows, row)
		}
	}

	internal.RowsInserted.Add(float64(result.Count))
	internal.RowsSkipped.Add(float64(skipped))
	if skipped > 0 {
		e.logger.Debug("skipped %d duplicate %s rows", skipped, entity.Name)
	}
	e.logger.Trace("inserted %d %s rows in %v", result.Count, entity.Name, time.Since(started))
	return &result, nil
}
