package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"auditflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const reportColumns = `id,type,client_name,project_name,COALESCE(description,''),priority,status,COALESCE(content,''),COALESCE(model,''),created_at,updated_at`

func scanReport(scan func(dest ...any) error) (domain.Report, error) {
	var r domain.Report
	err := scan(&r.ID, &r.Type, &r.ClientName, &r.ProjectName, &r.Description,
		&r.Priority, &r.Status, &r.Content, &r.Model, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

// CreateReport inserts a new report row in its own transaction.
func (r Repo) CreateReport(ctx context.Context, report *domain.Report) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.CreateReportTx(ctx, tx, report); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateReportTx inserts a new report row inside the caller's
// transaction, so event log appends can share it.
func (r Repo) CreateReportTx(ctx context.Context, tx *sql.Tx, report *domain.Report) error {
	if report.ID == "" {
		return errors.New("id required")
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reports(id,type,client_name,project_name,description,priority,status,content,model,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		report.ID, report.Type, report.ClientName, report.ProjectName, nullable(report.Description),
		report.Priority, report.Status, nullable(report.Content), nullable(report.Model),
		report.CreatedAt, report.UpdatedAt)
	return err
}

// GetReport fetches one report by id.
func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

// ReportFilters narrows ListReports.
type ReportFilters struct {
	Status string
	Type   string
	Limit  int
}

// ListReports returns reports newest first.
func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		conds = append(conds, "type=?")
		args = append(args, f.Type)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []domain.Report
	for rows.Next() {
		report, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// UpdateReportStatus moves a report through its lifecycle in its own
// transaction.
func (r Repo) UpdateReportStatus(ctx context.Context, id, status, content, model, updatedAt string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpdateReportStatusTx(ctx, tx, id, status, content, model, updatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateReportStatusTx moves a report through its lifecycle inside the
// caller's transaction. Content and model are only written when
// non-empty.
func (r Repo) UpdateReportStatusTx(ctx context.Context, tx *sql.Tx, id, status, content, model, updatedAt string) error {
	sets := []string{"status=?", "updated_at=?"}
	args := []any{status, updatedAt}
	if content != "" {
		sets = append(sets, "content=?")
		args = append(args, content)
	}
	if model != "" {
		sets = append(sets, "model=?")
		args = append(args, model)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, `UPDATE reports SET `+strings.Join(sets, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var conds []string
	var args []any
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
