// Package service implements the task lifecycle: the upsert decision tree,
// state transitions, ignore snapshots, scan finalization and display-status
// derivation. All writes go through the storage engine's single write lock;
// batch entry points take one BEGIN IMMEDIATE transaction for the whole
// batch.
package service

import (
	"database/sql"
	"time"

	"github.com/linwei/iface-registry/internal/calendar"
	"github.com/linwei/iface-registry/internal/domain/entity"
	"github.com/linwei/iface-registry/internal/identity"
	"github.com/linwei/iface-registry/internal/repository"
	"github.com/linwei/iface-registry/pkg/database"
	"go.uber.org/zap"
)

// Service is the lifecycle service. It is safe for concurrent use; all
// mutation is serialized on the storage engine's write lock.
type Service struct {
	tasks     *repository.TaskRepository
	snapshots *repository.SnapshotRepository
	events    *repository.EventRepository
	overdue   calendar.OverdueFunc
	logger    *zap.Logger
}

// New creates the lifecycle service. The overdue predicate is injected so
// the business-day calendar stays outside the core.
func New(overdue calendar.OverdueFunc, logger *zap.Logger) *Service {
	return &Service{
		tasks:     repository.NewTaskRepository(logger),
		snapshots: repository.NewSnapshotRepository(logger),
		events:    repository.NewEventRepository(logger),
		overdue:   overdue,
		logger:    logger,
	}
}

// db returns the memoized storage handle, honoring maintenance mode.
func (s *Service) db() (*database.DB, error) {
	return database.Acquire(s.logger)
}

// withTx runs fn inside a single immediate transaction.
func (s *Service) withTx(fn func(tx *sql.Tx) error) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	return db.WithImmediateTx(fn)
}

// UpsertTask applies one scan row in its own transaction.
func (s *Service) UpsertTask(key entity.TaskKey, fields entity.UpsertFields, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		return s.UpsertTaskTx(tx, key, fields, now)
	})
}

// BatchUpsertItem pairs one key with its candidate fields.
type BatchUpsertItem struct {
	Key    entity.TaskKey
	Fields entity.UpsertFields
}

// BatchUpsert applies a whole scan in one immediate transaction. Any SQL
// failure rolls the entire batch back.
func (s *Service) BatchUpsert(items []BatchUpsertItem, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, item := range items {
			if err := s.UpsertTaskTx(tx, item.Key, item.Fields, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteEvent appends one audit event in its own transaction.
func (s *Service) WriteEvent(kind string, key *entity.TaskKey, extra map[string]any, now time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		return s.WriteEventTx(tx, kind, key, extra, now)
	})
}

// WriteEventTx appends one audit event inside an existing transaction. The
// locator is canonicalized so event rows match the task they describe.
func (s *Service) WriteEventTx(tx repository.Executor, kind string, key *entity.TaskKey, extra map[string]any, now time.Time) error {
	if key != nil {
		k := *key
		k.SourceFile = identity.Basename(k.SourceFile)
		k.InterfaceID = identity.NormalizeInterfaceID(k.InterfaceID)
		key = &k
	}
	return s.events.Append(tx, identity.FormatTimestamp(now), kind, key, extra)
}

// FindTasksForForceAssign returns every non-archived row of a logical
// interface regardless of source file, so an interface can be reassigned
// even when its current workbook is unknown.
func (s *Service) FindTasksForForceAssign(fileType int, projectID, interfaceID string) ([]*entity.Task, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	bid := identity.BusinessID(fileType, projectID, interfaceID)
	return s.tasks.ActiveByBusinessID(db, bid)
}

// TaskHistory returns every row ever recorded for a logical interface,
// archived forks included, oldest first.
func (s *Service) TaskHistory(fileType int, projectID, interfaceID string) ([]*entity.Task, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	bid := identity.BusinessID(fileType, projectID, interfaceID)
	return s.tasks.HistoryByBusinessID(db, bid)
}

// EventsByKind returns the most recent audit events of one kind.
func (s *Service) EventsByKind(kind string, limit int) ([]*entity.Event, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return s.events.ListByKind(db, kind, limit)
}

// InterfaceEvents returns the audit trail for one logical interface.
func (s *Service) InterfaceEvents(fileType int, projectID, interfaceID string) ([]*entity.Event, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	return s.events.ListByInterface(db, fileType, projectID, identity.NormalizeInterfaceID(interfaceID))
}
