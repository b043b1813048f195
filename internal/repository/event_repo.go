package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/linwei/iface-registry/internal/domain/entity"
	"go.uber.org/zap"
)

// EventRepository appends to and reads the audit log.
type EventRepository struct {
	logger *zap.Logger
}

// NewEventRepository creates an event repository.
func NewEventRepository(logger *zap.Logger) *EventRepository {
	return &EventRepository{logger: logger}
}

// Append writes one audit event. Extra is marshalled to JSON; a nil map
// stores NULL.
func (r *EventRepository) Append(ex Executor, ts, kind string, key *entity.TaskKey, extra map[string]any) error {
	var extraJSON sql.NullString
	if len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("failed to marshal event extra: %w", err)
		}
		extraJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var fileType, rowIndex sql.NullInt64
	var projectID, interfaceID, sourceFile sql.NullString
	if key != nil {
		fileType = sql.NullInt64{Int64: int64(key.FileType), Valid: true}
		rowIndex = sql.NullInt64{Int64: int64(key.RowIndex), Valid: true}
		projectID = nullable(key.ProjectID)
		interfaceID = nullable(key.InterfaceID)
		sourceFile = nullable(key.SourceFile)
	}

	query := `
		INSERT INTO events (ts, event, file_type, project_id, interface_id, source_file, row_index, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := ex.Exec(query, ts, kind, fileType, projectID, interfaceID, sourceFile, rowIndex, extraJSON); err != nil {
		r.logger.Error("Failed to append event",
			zap.String("event", kind), zap.Error(err))
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListByKind returns the most recent events of one kind, newest first.
func (r *EventRepository) ListByKind(ex Executor, kind string, limit int) ([]*entity.Event, error) {
	query := `
		SELECT id, ts, event, file_type, project_id, interface_id, source_file, row_index, extra
		FROM events WHERE event = ? ORDER BY ts DESC, id DESC LIMIT ?
	`
	rows, err := ex.Query(query, kind, limit)
	if err != nil {
		r.logger.Error("Failed to list events", zap.String("event", kind), zap.Error(err))
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByInterface returns all events touching one logical interface, oldest
// first, for history views.
func (r *EventRepository) ListByInterface(ex Executor, fileType int, projectID, interfaceID string) ([]*entity.Event, error) {
	query := `
		SELECT id, ts, event, file_type, project_id, interface_id, source_file, row_index, extra
		FROM events
		WHERE file_type = ? AND project_id = ? AND interface_id = ?
		ORDER BY ts ASC, id ASC
	`
	rows, err := ex.Query(query, fileType, projectID, interfaceID)
	if err != nil {
		r.logger.Error("Failed to list interface events",
			zap.String("project_id", projectID),
			zap.String("interface_id", interfaceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list interface events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*entity.Event, error) {
	var events []*entity.Event
	for rows.Next() {
		var e entity.Event
		var fileType, rowIndex sql.NullInt64
		var projectID, interfaceID, sourceFile, extra sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind,
			&fileType, &projectID, &interfaceID, &sourceFile, &rowIndex, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.FileType = int(fileType.Int64)
		e.ProjectID = projectID.String
		e.InterfaceID = interfaceID.String
		e.SourceFile = sourceFile.String
		e.RowIndex = int(rowIndex.Int64)
		e.Extra = extra.String
		events = append(events, &e)
	}
	return events, rows.Err()
}
