package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// QueryRower is satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type QueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxQuerier interface {
	QueryRower
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const leadColumns = `id, name, phone, service, commune, status, urgency, notes, contacted,
		contacted_at, channel, session_id, created_at, updated_at, last_interaction_at, last_follow_up_at`

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db pgxQuerier
}

// NewPostgresRepository initializes a repo backed by a pgx pool.
func NewPostgresRepository(db pgxQuerier) *PostgresRepository {
	if db == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

// InsertLead writes a new lead through q, which may be a transaction.
func InsertLead(ctx context.Context, q QueryRower, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO leads (id, name, phone, service, commune, status, urgency, notes, channel, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + leadColumns
	lead, err := scanLead(q.QueryRow(ctx, query,
		uuid.New(),
		req.Fields.Name,
		req.Fields.Phone,
		req.Fields.Service,
		req.Fields.Commune,
		string(req.Fields.Status),
		NormalizeString(req.Urgency),
		req.Notes,
		string(req.Channel),
		req.SessionID,
	))
	if err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}
	return lead, nil
}

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	return InsertLead(ctx, r.db, req)
}

// Update merges non-null fields into the row and replaces its status.
func (r *PostgresRepository) Update(ctx context.Context, id string, req *UpdateLeadRequest) (*Lead, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	fields := req.Fields.Normalize()
	query := `
		UPDATE leads SET
			name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			service = COALESCE($4, service),
			commune = COALESCE($5, commune),
			status = COALESCE(NULLIF($6, ''), status),
			urgency = COALESCE($7, urgency),
			notes = COALESCE(NULLIF($8, ''), notes),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + leadColumns
	lead, err := scanLead(r.db.QueryRow(ctx, query,
		id,
		fields.Name,
		fields.Phone,
		fields.Service,
		fields.Commune,
		string(fields.Status),
		NormalizeString(req.Urgency),
		req.Notes,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leads: update failed: %w", err)
	}
	return lead, nil
}

// GetByID fetches a lead.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leads: get failed: %w", err)
	}
	return lead, nil
}

// TouchLastInteraction refreshes last_interaction_at.
func (r *PostgresRepository) TouchLastInteraction(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE leads SET last_interaction_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("leads: touch failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// List returns leads newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Channel != "" {
		args = append(args, string(filter.Channel))
		where = append(where, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filter.Contacted != nil {
		args = append(args, *filter.Contacted)
		where = append(where, fmt.Sprintf("contacted = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.queryLeads(ctx, query, args...)
}

// MarkContacted flags the lead as handled by a human.
func (r *PostgresRepository) MarkContacted(ctx context.Context, id string) (*Lead, error) {
	query := `
		UPDATE leads SET contacted = true, contacted_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING ` + leadColumns
	lead, err := scanLead(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leads: mark contacted failed: %w", err)
	}
	return lead, nil
}

// Stats counts leads by status, channel and contact state.
func (r *PostgresRepository) Stats(ctx context.Context) (*Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, channel, contacted, count(*)
		FROM leads
		GROUP BY status, channel, contacted
	`)
	if err != nil {
		return nil, fmt.Errorf("leads: stats failed: %w", err)
	}
	defer rows.Close()

	stats := newStats()
	for rows.Next() {
		var (
			status, channel string
			contacted       bool
			count           int64
		)
		if err := rows.Scan(&status, &channel, &contacted, &count); err != nil {
			return nil, fmt.Errorf("leads: scan stats: %w", err)
		}
		stats.add(Status(status), Channel(channel), contacted, int(count))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: stats rows: %w", err)
	}
	return stats, nil
}

// ListNeedingFollowUp returns uncontacted leads idle since q.IdleSince.
func (r *PostgresRepository) ListNeedingFollowUp(ctx context.Context, q FollowUpQuery) ([]*Lead, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE contacted = false
			AND status = $1
			AND last_interaction_at <= $2
			AND (last_follow_up_at IS NULL OR last_follow_up_at <= $3)
		ORDER BY last_interaction_at ASC
		LIMIT $4`
	return r.queryLeads(ctx, query, string(q.Status), q.IdleSince, q.NotRemindedSince, limit)
}

// RecordFollowUp stores when the last reminder went out.
func (r *PostgresRepository) RecordFollowUp(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE leads SET last_follow_up_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("leads: record follow-up failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (r *PostgresRepository) queryLeads(ctx context.Context, query string, args ...any) ([]*Lead, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leads: query failed: %w", err)
	}
	defer rows.Close()

	out := []*Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: rows: %w", err)
	}
	return out, nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead            Lead
		status, channel string
	)
	if err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Phone,
		&lead.Service,
		&lead.Commune,
		&status,
		&lead.Urgency,
		&lead.Notes,
		&lead.Contacted,
		&lead.ContactedAt,
		&channel,
		&lead.SessionID,
		&lead.CreatedAt,
		&lead.UpdatedAt,
		&lead.LastInteractionAt,
		&lead.LastFollowUpAt,
	); err != nil {
		return nil, err
	}
	lead.Status = Status(status)
	lead.Channel = Channel(channel)
	return &lead, nil
}
