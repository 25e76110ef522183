// Package pgstore provides a PostgreSQL implementation of store.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/signal"
	"github.com/linnemanlabs/klaxon/internal/store"
)

var tracer = otel.Tracer("github.com/linnemanlabs/klaxon/internal/store/pgstore")

//go:embed schema.sql
var schema string

// Store persists alerts and notification attempts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store backed by the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, fingerprint, type, subject_id, severity, state, message,
	risk_amount::text, auto_action, created_at, last_signal_at, escalation_step,
	step_started_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	version, history`

// Get retrieves an alert by ID, including history.
func (s *Store) Get(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// GetLiveByFingerprint retrieves the non-terminal alert for a fingerprint.
func (s *Store) GetLiveByFingerprint(ctx context.Context, fingerprint string) (*alert.Alert, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetLiveByFingerprint", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE fingerprint = $1 AND state NOT IN ('resolved', 'expired')`
	a, err := scanAlertRow(s.pool.QueryRow(ctx, query, fingerprint))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if a == nil {
		return nil, false, nil
	}
	return a, true, nil
}

// Put inserts or replaces an alert row, including its history.
func (s *Store) Put(ctx context.Context, a *alert.Alert) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	historyJSON, err := json.Marshal(a.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `INSERT INTO alerts (
		id, fingerprint, type, subject_id, severity, state, message,
		risk_amount, auto_action, created_at, last_signal_at, escalation_step,
		step_started_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at,
		version, history
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	ON CONFLICT (id) DO UPDATE SET
		severity        = EXCLUDED.severity,
		state           = EXCLUDED.state,
		message         = EXCLUDED.message,
		risk_amount     = EXCLUDED.risk_amount,
		auto_action     = EXCLUDED.auto_action,
		last_signal_at  = EXCLUDED.last_signal_at,
		escalation_step = EXCLUDED.escalation_step,
		step_started_at = EXCLUDED.step_started_at,
		acknowledged_by = EXCLUDED.acknowledged_by,
		acknowledged_at = EXCLUDED.acknowledged_at,
		resolved_by     = EXCLUDED.resolved_by,
		resolved_at     = EXCLUDED.resolved_at,
		version         = EXCLUDED.version,
		history         = EXCLUDED.history`

	_, err = s.pool.Exec(ctx, query,
		a.ID, a.Fingerprint, string(a.Type), a.SubjectID, string(a.Severity), string(a.State), a.Message,
		a.RiskAmount.String(), a.AutoAction, a.CreatedAt, a.LastSignalAt, a.EscalationStep,
		a.StepStartedAt, a.AcknowledgedBy, nullableTime(a.AcknowledgedAt), a.ResolvedBy, nullableTime(a.ResolvedAt),
		a.Version, historyJSON,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert alert: %w", err)
	}
	return nil
}

// List returns alerts matching the filter, newest first.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts`
	var conds []string
	var args []any
	add := func(col, val string) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Severity != "" {
		add("severity", string(f.Severity))
	}
	if f.Type != "" {
		add("type", string(f.Type))
	}
	if f.SubjectID != "" {
		add("subject_id", f.SubjectID)
	}
	if f.State != "" {
		add("state", string(f.State))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	alerts, err := s.queryAlerts(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return alerts, nil
}

// Live returns all non-terminal alerts, oldest first, for timer recovery.
func (s *Store) Live(ctx context.Context) ([]*alert.Alert, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Live", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE state NOT IN ('resolved', 'expired') ORDER BY created_at`
	alerts, err := s.queryAlerts(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return alerts, nil
}

// PutAttempt inserts or replaces a notification attempt by ID.
func (s *Store) PutAttempt(ctx context.Context, at *alert.Attempt) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutAttempt", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	query := `INSERT INTO notification_attempts (
		id, alert_id, step, channel, recipient, template, rendered_body,
		attempted_at, status, retries, provider_receipt_id, error_detail
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (id) DO UPDATE SET
		attempted_at        = EXCLUDED.attempted_at,
		status              = EXCLUDED.status,
		retries             = EXCLUDED.retries,
		provider_receipt_id = EXCLUDED.provider_receipt_id,
		error_detail        = EXCLUDED.error_detail`

	_, err := s.pool.Exec(ctx, query,
		at.ID, at.AlertID, at.Step, string(at.Channel), at.Recipient, at.Template, at.RenderedBody,
		at.AttemptedAt, string(at.Status), at.Retries, at.ProviderReceiptID, at.ErrorDetail,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns all attempts for an alert in creation order.
func (s *Store) ListAttempts(ctx context.Context, alertID string) ([]*alert.Attempt, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAttempts", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, step, channel, recipient, template, rendered_body,
			attempted_at, status, retries, provider_receipt_id, error_detail
		 FROM notification_attempts WHERE alert_id = $1 ORDER BY seq`,
		alertID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Attempt
	for rows.Next() {
		var at alert.Attempt
		var channel, status string
		if err := rows.Scan(
			&at.ID, &at.AlertID, &at.Step, &channel, &at.Recipient, &at.Template, &at.RenderedBody,
			&at.AttemptedAt, &status, &at.Retries, &at.ProviderReceiptID, &at.ErrorDetail,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		at.Channel = alert.Channel(channel)
		at.Status = alert.AttemptStatus(status)
		out = append(out, &at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// scanAlertRow scans a single row into an alert. Returns (nil, nil) when
// no row is found.
func scanAlertRow(row pgx.Row) (*alert.Alert, error) {
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a              alert.Alert
		typ            string
		severity       string
		state          string
		riskStr        string
		acknowledgedAt *time.Time
		resolvedAt     *time.Time
		historyJSON    []byte
	)

	err := row.Scan(
		&a.ID, &a.Fingerprint, &typ, &a.SubjectID, &severity, &state, &a.Message,
		&riskStr, &a.AutoAction, &a.CreatedAt, &a.LastSignalAt, &a.EscalationStep,
		&a.StepStartedAt, &a.AcknowledgedBy, &acknowledgedAt, &a.ResolvedBy, &resolvedAt,
		&a.Version, &historyJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	a.Type = signal.Source(typ)
	a.Severity = alert.Severity(severity)
	a.State = alert.State(state)

	a.RiskAmount, err = decimal.NewFromString(riskStr)
	if err != nil {
		return nil, fmt.Errorf("parse risk_amount %q: %w", riskStr, err)
	}

	if acknowledgedAt != nil {
		a.AcknowledgedAt = *acknowledgedAt
	}
	if resolvedAt != nil {
		a.ResolvedAt = *resolvedAt
	}

	if err := json.Unmarshal(historyJSON, &a.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}

	return &a, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ store.Store = (*Store)(nil)
