// Package service implements the create calls. Each call validates its payload, runs in a single
// backend transaction and returns the projected result.
package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/normalize"
	"github.com/shopmonkeyus/entitydb/internal/projection"
	"github.com/shopmonkeyus/entitydb/internal/relation"
	"github.com/shopmonkeyus/entitydb/internal/writer"
	"github.com/shopmonkeyus/go-common/logger"
)

// Config is the configuration for the service.
type Config struct {
	Registry internal.SchemaRegistry
	Backend  internal.Backend
	Logger   logger.Logger
	// MaxBatchRows is the number of rows sent per batch statement, 0 uses the writer default.
	MaxBatchRows int
}

// CreateArgs are the arguments of Create.
type CreateArgs struct {
	Data    map[string]any `json:"data" msgpack:"data"`
	Select  map[string]any `json:"select,omitempty" msgpack:"select,omitempty"`
	Include map[string]any `json:"include,omitempty" msgpack:"include,omitempty"`
}

// CreateManyArgs are the arguments of CreateMany and CreateManyAndReturn.
type CreateManyArgs struct {
	Data           []map[string]any `json:"data" msgpack:"data"`
	SkipDuplicates bool             `json:"skipDuplicates,omitempty" msgpack:"skipDuplicates,omitempty"`
	Select         map[string]any   `json:"select,omitempty" msgpack:"select,omitempty"`
}

// CountResult is the result of CreateMany.
type CountResult struct {
	Count int `json:"count" msgpack:"count"`
}

// Service is the entry point for creating entities.
type Service struct {
	registry internal.SchemaRegistry
	backend  internal.Backend
	logger   logger.Logger
	writer   *writer.Executor
	resolver *relation.Resolver
}

// New returns a new service.
func New(config Config) *Service {
	log := config.Logger.WithPrefix("[service]")
	executor := writer.New(config.Logger, config.MaxBatchRows)
	return &Service{
		registry: config.Registry,
		backend:  config.Backend,
		logger:   log,
		writer:   executor,
		resolver: relation.New(config.Logger, executor),
	}
}

// Registry returns the schema registry of the service.
func (s *Service) Registry() internal.SchemaRegistry {
	return s.registry
}

func (s *Service) entity(name string) (*internal.EntityType, error) {
	entity, ok := s.registry.Entity(name)
	if !ok {
		return nil, &internal.UnknownEntityError{Entity: name}
	}
	return entity, nil
}

// observe records the outcome and duration of a call.
func (s *Service) observe(op string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = internal.ErrorCode(err)
	}
	internal.TotalRequests.WithLabelValues(op, outcome).Inc()
	internal.RequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil && !internal.IsValidationError(err) {
		s.logger.Debug("%s failed: %s", op, err)
	}
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if internal.IsBackendUnavailableError(err) || internal.IsUniqueConstraintError(err) || internal.IsDanglingReferenceError(err) {
		return err
	}
	return internal.NewBackendUnavailableError(op, err)
}

// inTransaction runs fn in a new transaction which is committed if fn succeeds and rolled back otherwise.
func (s *Service) inTransaction(ctx context.Context, fn func(txn internal.Txn) error) error {
	txn, err := s.backend.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	var success bool
	defer func() {
		if !success {
			if err := txn.Rollback(); err != nil {
				s.logger.Warn("error rolling back transaction: %s", err)
			}
		}
	}()
	if err := fn(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return unavailable("commit", err)
	}
	success = true
	return nil
}

// Create creates a single row of the entity together with its nested relations and returns the projected row.
func (s *Service) Create(ctx context.Context, entityName string, args CreateArgs) (result *projection.Object, err error) {
	defer func(started time.Time) { s.observe("create", started, err) }(time.Now())
	entity, err := s.entity(entityName)
	if err != nil {
		return nil, err
	}
	req, err := normalize.Create(entity, args.Data, args.Select, args.Include)
	if err != nil {
		return nil, err
	}
	err = s.inTransaction(ctx, func(txn internal.Txn) error {
		row, links, err := s.resolver.Create(ctx, txn, req)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err = projection.Project(ctx, row, req.Select, links, txn.LookupByPrimaryKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateMany creates the rows of the entity and returns the number of rows inserted.
func (s *Service) CreateMany(ctx context.Context, entityName string, args CreateManyArgs) (result *CountResult, err error) {
	defer func(started time.Time) { s.observe("createMany", started, err) }(time.Now())
	entity, err := s.entity(entityName)
	if err != nil {
		return nil, err
	}
	req, err := normalize.Batch(entity, args.Data, args.SkipDuplicates, nil)
	if err != nil {
		return nil, err
	}
	err = s.inTransaction(ctx, func(txn internal.Txn) error {
		batch, err := s.writer.InsertMany(ctx, txn, entity, req.Rows, req.SkipDuplicates, false)
		if err != nil {
			return err
		}
		result = &CountResult{Count: batch.Count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateManyAndReturn creates the rows of the entity and returns the inserted rows in insertion order.
func (s *Service) CreateManyAndReturn(ctx context.Context, entityName string, args CreateManyArgs) (result []*projection.Object, err error) {
	defer func(started time.Time) { s.observe("createManyAndReturn", started, err) }(time.Now())
	entity, err := s.entity(entityName)
	if err != nil {
		return nil, err
	}
	req, err := normalize.Batch(entity, args.Data, args.SkipDuplicates, args.Select)
	if err != nil {
		return nil, err
	}
	err = s.inTransaction(ctx, func(txn internal.Txn) error {
		batch, err := s.writer.InsertMany(ctx, txn, entity, req.Rows, req.SkipDuplicates, true)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err = projection.Rows(ctx, batch.Rows, req.Select, txn.LookupByPrimaryKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
