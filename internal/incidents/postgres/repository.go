// Package postgres provides PostgreSQL implementation of incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/incidents"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db     *pgxpool.Pool
	prefix string
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool, idPrefix string) *Repository {
	if idPrefix == "" {
		idPrefix = incidents.DefaultIDPrefix
	}
	return &Repository{db: db, prefix: idPrefix}
}

const incidentColumns = `
	id, title, description, status, priority, impact, assigned_to, reporter,
	due_date, resolved_at, components, tags, created_at, updated_at
`

// Create inserts the incident with its initial comments and activity entries.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	var number int64
	if err := tx.QueryRow(ctx, `SELECT nextval('incident_number_seq')`).Scan(&number); err != nil {
		return fmt.Errorf("next incident number: %w", err)
	}
	incident.ID = incidents.FormatID(r.prefix, number)

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.Exec(ctx, query,
		incident.ID,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.Priority,
		incident.Impact,
		incident.AssignedTo,
		incident.Reporter,
		incident.DueDate,
		incident.ResolvedAt,
		labels(incident.Components),
		labels(incident.Tags),
		incident.CreatedAt,
		incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}

	if err := insertChildren(ctx, tx, incident.ID, incident.Comments, incident.ActivityLogs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get retrieves an incident with its comments and activity log.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return load(ctx, r.db, id, false)
}

// Mutate locks the incident row, applies fn and writes the result in one
// transaction. Only comments and activity entries appended by fn are inserted.
func (r *Repository) Mutate(ctx context.Context, id string, fn incidents.MutateFunc) (*domain.Incident, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	incident, err := load(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	commentCount := len(incident.Comments)
	activityCount := len(incident.ActivityLogs)

	if err := fn(incident); err != nil {
		return nil, err
	}
	if len(incident.Comments) < commentCount || len(incident.ActivityLogs) < activityCount {
		return nil, errors.New("comments and activity log are append-only")
	}

	query := `
		UPDATE incidents
		SET title = $2, description = $3, status = $4, priority = $5, impact = $6,
			assigned_to = $7, due_date = $8, resolved_at = $9, components = $10,
			tags = $11, updated_at = $12
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, query,
		id,
		incident.Title,
		incident.Description,
		incident.Status,
		incident.Priority,
		incident.Impact,
		incident.AssignedTo,
		incident.DueDate,
		incident.ResolvedAt,
		labels(incident.Components),
		labels(incident.Tags),
		incident.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	if err := insertChildren(ctx, tx, id, incident.Comments[commentCount:], incident.ActivityLogs[activityCount:]); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return incident, nil
}

// Delete removes an incident. Comments and activity cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// List retrieves a page of incident summaries with the total match count.
func (r *Repository) List(ctx context.Context, filter incidents.ListFilter) ([]domain.IncidentSummary, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if filter.SearchText != "" {
		where += fmt.Sprintf(" AND (id ILIKE $%d OR title ILIKE $%d)", argNum, argNum)
		args = append(args, "%"+escapeLike(filter.SearchText)+"%")
		argNum++
	}

	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	query := `
		SELECT id, title, status, priority, impact, assigned_to, created_at, updated_at
		FROM incidents` + where + `
		ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	items := make([]domain.IncidentSummary, 0)
	for rows.Next() {
		var s domain.IncidentSummary
		if err := rows.Scan(
			&s.ID,
			&s.Title,
			&s.Status,
			&s.Priority,
			&s.Impact,
			&s.AssignedTo,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate incidents: %w", err)
	}

	return items, total, nil
}

// Stats computes dashboard counters in a single scan.
func (r *Repository) Stats(ctx context.Context, resolvedSince time.Time) (*domain.DashboardStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'resolved'),
			COUNT(*) FILTER (WHERE status <> 'resolved' AND priority IN ('high', 'critical')),
			COUNT(*) FILTER (WHERE status = 'resolved' AND resolved_at >= $1),
			COUNT(*)
		FROM incidents
	`
	var stats domain.DashboardStats
	if err := r.db.QueryRow(ctx, query, resolvedSince).Scan(
		&stats.Active,
		&stats.HighPriority,
		&stats.ResolvedToday,
		&stats.Total,
	); err != nil {
		return nil, fmt.Errorf("incident stats: %w", err)
	}
	return &stats, nil
}

func load(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var inc domain.Incident
	err := q.QueryRow(ctx, query, id).Scan(
		&inc.ID,
		&inc.Title,
		&inc.Description,
		&inc.Status,
		&inc.Priority,
		&inc.Impact,
		&inc.AssignedTo,
		&inc.Reporter,
		&inc.DueDate,
		&inc.ResolvedAt,
		&inc.Components,
		&inc.Tags,
		&inc.CreatedAt,
		&inc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	normalizeTimes(&inc)

	if inc.Comments, err = listComments(ctx, q, id); err != nil {
		return nil, err
	}
	if inc.ActivityLogs, err = listActivity(ctx, q, id); err != nil {
		return nil, err
	}
	return &inc, nil
}

func listComments(ctx context.Context, q querier, incidentID string) ([]domain.Comment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, author, content, is_update, created_at
		FROM incident_comments
		WHERE incident_id = $1
		ORDER BY seq
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]domain.Comment, 0)
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.Author, &c.Content, &c.IsUpdate, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func listActivity(ctx context.Context, q querier, incidentID string) ([]domain.ActivityLogEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, action, actor, details, created_at
		FROM incident_activity
		WHERE incident_id = $1
		ORDER BY seq
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ActivityLogEntry, 0)
	for rows.Next() {
		var e domain.ActivityLogEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.User, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}

const (
	insertCommentSQL = `
		INSERT INTO incident_comments (id, incident_id, author, content, is_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	insertActivitySQL = `
		INSERT INTO incident_activity (id, incident_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
)

// insertChildren writes comments and activity entries in one batch round trip.
func insertChildren(ctx context.Context, tx pgx.Tx, incidentID string, comments []domain.Comment, entries []domain.ActivityLogEntry) error {
	if len(comments) == 0 && len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range comments {
		batch.Queue(insertCommentSQL, c.ID, incidentID, c.Author, c.Content, c.IsUpdate, c.CreatedAt)
	}
	for _, e := range entries {
		batch.Queue(insertActivitySQL, e.ID, incidentID, e.Action, e.User, e.Details, e.Timestamp)
	}

	results := tx.SendBatch(ctx, batch)
	for _, c := range comments {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert comment %s: %w", c.ID, err)
		}
	}
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert activity %s: %w", e.ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}

// labels keeps empty label lists from being written as NULL.
func labels(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

func normalizeTimes(inc *domain.Incident) {
	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
	if inc.DueDate != nil {
		d := inc.DueDate.UTC()
		inc.DueDate = &d
	}
	if inc.ResolvedAt != nil {
		t := inc.ResolvedAt.UTC()
		inc.ResolvedAt = &t
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
