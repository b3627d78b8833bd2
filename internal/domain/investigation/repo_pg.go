package investigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresight/caresight/internal/platform/db"
)

type investigationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &investigationRepoPG{pool: pool}
}

const investigationCols = `id, patient_id, patient_name, status, intake_summary,
	reviewing_clinician_id, field_worker_id, plan, follow_up,
	last_activity_summary, created_at, updated_at`

func scanInvestigation(row pgx.Row) (*Investigation, error) {
	var (
		inv          Investigation
		planJSON     []byte
		followUpJSON []byte
	)
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.PatientName, &inv.Status, &inv.IntakeSummary,
		&inv.ReviewingClinicianID, &inv.FieldWorkerID, &planJSON, &followUpJSON,
		&inv.LastActivitySummary, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(planJSON) > 0 {
		inv.Plan = &ClinicianPlan{}
		if err := json.Unmarshal(planJSON, inv.Plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	}
	if len(followUpJSON) > 0 {
		inv.FollowUp = &FollowUpRequest{}
		if err := json.Unmarshal(followUpJSON, inv.FollowUp); err != nil {
			return nil, fmt.Errorf("decode follow_up: %w", err)
		}
	}
	return &inv, nil
}

func (r *investigationRepoPG) Create(ctx context.Context, inv *Investigation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO investigations (id, patient_id, patient_name, status, intake_summary, last_activity_summary)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			inv.ID, inv.PatientID, inv.PatientName, inv.Status, inv.IntakeSummary, inv.LastActivitySummary)
		if err != nil {
			return err
		}
		return insertStatusChange(ctx, tx, inv.ID, nil, inv.Status, inv.PatientID, "intake completed")
	})
}

func (r *investigationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Investigation, error) {
	return scanInvestigation(r.pool.QueryRow(ctx,
		`SELECT `+investigationCols+` FROM investigations WHERE id = $1`, id))
}

func (r *investigationRepoPG) list(ctx context.Context, where string, arg interface{}, limit, offset int) ([]*Investigation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM investigations WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+investigationCols+` FROM investigations WHERE `+where+` ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		arg, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *investigationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Investigation, int, error) {
	return r.list(ctx, `patient_id = $1`, patientID, limit, offset)
}

func (r *investigationRepoPG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Investigation, int, error) {
	return r.list(ctx, `status = $1`, status, limit, offset)
}

func (r *investigationRepoPG) ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*Investigation, int, error) {
	return r.list(ctx, `reviewing_clinician_id = $1`, clinicianID, limit, offset)
}

func (r *investigationRepoPG) ListByFieldWorker(ctx context.Context, workerID uuid.UUID, limit, offset int) ([]*Investigation, int, error) {
	return r.list(ctx, `field_worker_id = $1`, workerID, limit, offset)
}

func (r *investigationRepoPG) ClaimReview(ctx context.Context, id, clinicianID uuid.UUID, from Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE investigations
		SET reviewing_clinician_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
		  AND (reviewing_clinician_id IS NULL OR reviewing_clinician_id = $2)`,
		id, clinicianID, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (r *investigationRepoPG) Dispatch(ctx context.Context, id, actorID uuid.UUID, workerID *uuid.UUID, plan *ClinicianPlan, from, to Status) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE investigations
			SET status = $2, plan = $3, field_worker_id = $4, updated_at = NOW()
			WHERE id = $1 AND status = $5`,
			id, to, planJSON, workerID, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
		return insertStatusChange(ctx, tx, id, &from, to, actorID, "plan dispatched")
	})
}

func (r *investigationRepoPG) Transition(ctx context.Context, id, actorID uuid.UUID, from, to Status, reason string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE investigations SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3`,
			id, to, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
		return insertStatusChange(ctx, tx, id, &from, to, actorID, reason)
	})
}

func (r *investigationRepoPG) SetFollowUp(ctx context.Context, id, actorID uuid.UUID, req *FollowUpRequest, from, to Status) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode follow_up: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE investigations SET status = $2, follow_up = $3, updated_at = NOW()
			WHERE id = $1 AND status = $4`,
			id, to, reqJSON, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
		return insertStatusChange(ctx, tx, id, &from, to, actorID, "follow-up visit requested")
	})
}

func (r *investigationRepoPG) AppendStep(ctx context.Context, step *Step, from, to Status, newLabTests []string, activitySummary string) error {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	evidenceJSON, err := json.Marshal(step.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	analysisJSON, err := json.Marshal(step.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	var followUpJSON []byte
	if step.FollowUp != nil {
		if followUpJSON, err = json.Marshal(step.FollowUp); err != nil {
			return fmt.Errorf("encode follow_up: %w", err)
		}
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var tag pgconn.CommandTag
		if newLabTests != nil {
			testsJSON, err := json.Marshal(newLabTests)
			if err != nil {
				return fmt.Errorf("encode lab tests: %w", err)
			}
			tag, err = tx.Exec(ctx, `
				UPDATE investigations
				SET status = $2, follow_up = NULL, last_activity_summary = $3,
				    plan = jsonb_set(plan, '{suggested_lab_tests}', $4::jsonb),
				    updated_at = NOW()
				WHERE id = $1 AND status = $5`,
				step.InvestigationID, to, activitySummary, testsJSON, from)
			if err != nil {
				return err
			}
		} else {
			var err error
			tag, err = tx.Exec(ctx, `
				UPDATE investigations
				SET status = $2, follow_up = NULL, last_activity_summary = $3, updated_at = NOW()
				WHERE id = $1 AND status = $4`,
				step.InvestigationID, to, activitySummary, from)
			if err != nil {
				return err
			}
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}

		err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(seq), 0) + 1 FROM investigation_steps WHERE investigation_id = $1`,
			step.InvestigationID).Scan(&step.Seq)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO investigation_steps (id, investigation_id, seq, type, submitted_by, evidence, analysis, follow_up)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			step.ID, step.InvestigationID, step.Seq, step.Type, step.SubmittedBy,
			evidenceJSON, analysisJSON, followUpJSON)
		if err != nil {
			return err
		}
		return insertStatusChange(ctx, tx, step.InvestigationID, &from, to, step.SubmittedBy, "field evidence analyzed")
	})
}

func (r *investigationRepoPG) Steps(ctx context.Context, id uuid.UUID) ([]*Step, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, investigation_id, seq, type, submitted_by, evidence, analysis, follow_up, created_at
		FROM investigation_steps WHERE investigation_id = $1 ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []*Step
	for rows.Next() {
		var (
			s            Step
			evidenceJSON []byte
			analysisJSON []byte
			followUpJSON []byte
		)
		if err := rows.Scan(&s.ID, &s.InvestigationID, &s.Seq, &s.Type, &s.SubmittedBy,
			&evidenceJSON, &analysisJSON, &followUpJSON, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(evidenceJSON, &s.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
		if err := json.Unmarshal(analysisJSON, &s.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		if len(followUpJSON) > 0 {
			s.FollowUp = &FollowUpRequest{}
			if err := json.Unmarshal(followUpJSON, s.FollowUp); err != nil {
				return nil, fmt.Errorf("decode follow_up: %w", err)
			}
		}
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

func (r *investigationRepoPG) StatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, investigation_id, from_status, to_status, actor_id, reason, created_at
		FROM investigation_status_history WHERE investigation_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []*StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.InvestigationID, &c.FromStatus, &c.ToStatus, &c.ActorID, &c.Reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

func insertStatusChange(ctx context.Context, q db.Querier, invID uuid.UUID, from *Status, to Status, actorID uuid.UUID, reason string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO investigation_status_history (id, investigation_id, from_status, to_status, actor_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.New(), invID, from, to, actorID, reason)
	return err
}
