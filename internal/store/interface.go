package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ferrobene/avalia/internal/models"
)

// ErrVersionConflict means the conditional update matched zero rows: a
// concurrent editor advanced the version token (or the row was removed)
// between the caller's read and this submission. The transaction is rolled
// back and no observable state changes.
var ErrVersionConflict = errors.New("deviation version conflict")

type DeviationStore interface {
	Close() error
	ApplyMigrations(dir string) error

	GetReviewerByEmail(email string) (*models.Reviewer, error)
	GetStudy(id int64) (*models.Study, error)
	ListStudiesForReviewer(email string) ([]models.StudySummary, error)
	GetReviewerSummary(email string) (*models.ReviewerSummary, error)
	ListDeviations(studyID int64, filter string) ([]models.Deviation, error)
	GetDeviation(id int64) (*models.Deviation, error)
	ListMonitorEmails(studyID int64) ([]string, error)
	ListAuditEntries(deviationID int64) ([]models.AuditEntry, error)

	SubmitEvaluation(ctx context.Context, sub models.Submission) (*models.SubmitResult, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

func (s *BaseStore) GetReviewerByEmail(email string) (*models.Reviewer, error) {
	var reviewer models.Reviewer
	query := s.Converter(`
		SELECT id, name, email, COALESCE(sponsor, '') AS sponsor
		FROM reviewers
		WHERE LOWER(email) = LOWER(?)
	`)

	err := s.DB.Get(&reviewer, query, strings.TrimSpace(email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reviewer: %w", err)
	}
	return &reviewer, nil
}

func (s *BaseStore) GetStudy(id int64) (*models.Study, error) {
	var study models.Study
	query := s.Converter(`
		SELECT id, code, name, status
		FROM studies
		WHERE id = ?
	`)

	err := s.DB.Get(&study, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	return &study, nil
}

func (s *BaseStore) ListStudiesForReviewer(email string) ([]models.StudySummary, error) {
	var studies []models.StudySummary
	query := s.Converter(`
		SELECT
			e.id,
			e.code,
			e.name,
			COUNT(CASE WHEN d.status != 'Evaluated' AND d.deleted_at IS NULL THEN 1 END) AS pending
		FROM studies e
		INNER JOIN study_reviewers sr ON e.id = sr.study_id
		INNER JOIN reviewers r ON r.id = sr.reviewer_id
		LEFT JOIN deviations d ON d.study_id = e.id
		WHERE LOWER(r.email) = LOWER(?)
		AND e.status = 'active'
		GROUP BY e.id, e.code, e.name
		ORDER BY pending DESC, e.name
	`)

	err := s.DB.Select(&studies, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}

	return studies, nil
}

func (s *BaseStore) GetReviewerSummary(email string) (*models.ReviewerSummary, error) {
	var summary models.ReviewerSummary
	query := s.Converter(`
		SELECT
			COUNT(DISTINCT e.id) AS total_studies,
			COUNT(CASE WHEN d.status != 'Evaluated' AND d.deleted_at IS NULL THEN 1 END) AS total_pending,
			COUNT(DISTINCT CASE WHEN d.status != 'Evaluated' AND d.deleted_at IS NULL THEN e.id END) AS studies_with_pending
		FROM studies e
		INNER JOIN study_reviewers sr ON e.id = sr.study_id
		INNER JOIN reviewers r ON r.id = sr.reviewer_id
		LEFT JOIN deviations d ON d.study_id = e.id
		WHERE LOWER(r.email) = LOWER(?)
		AND e.status = 'active'
	`)

	err := s.DB.Get(&summary, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviewer summary: %w", err)
	}
	return &summary, nil
}

const deviationColumns = `
	id,
	study_id,
	seq_number,
	status,
	COALESCE(participant, '') AS participant,
	COALESCE(site, '') AS site,
	COALESCE(visit, '') AS visit,
	COALESCE(description, '') AS description,
	COALESCE(identification, '') AS identification,
	COALESCE(root_cause, '') AS root_cause,
	COALESCE(corrective_action, '') AS corrective_action,
	COALESCE(preventive_action, '') AS preventive_action,
	COALESCE(importance, '') AS importance,
	COALESCE(evaluation_text, '') AS evaluation_text,
	version,
	COALESCE(updated_by, '') AS updated_by,
	updated_at`

// Deviation list filters. FilterPending matches every status except
// Evaluated; any other non-FilterAll value matches that status exactly.
const (
	FilterPending = "pending"
	FilterAll     = "all"
)

func (s *BaseStore) ListDeviations(studyID int64, filter string) ([]models.Deviation, error) {
	query := `
		SELECT ` + deviationColumns + `
		FROM deviations
		WHERE study_id = ?
		AND deleted_at IS NULL
	`
	params := []interface{}{studyID}

	switch filter {
	case FilterPending, "":
		query += " AND status != 'Evaluated'"
	case FilterAll:
	default:
		query += " AND status = ?"
		params = append(params, filter)
	}

	query += " ORDER BY seq_number DESC"

	var deviations []models.Deviation
	err := s.DB.Select(&deviations, s.Converter(query), params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deviations: %w", err)
	}

	return deviations, nil
}

func (s *BaseStore) GetDeviation(id int64) (*models.Deviation, error) {
	var deviation models.Deviation
	query := s.Converter(`
		SELECT ` + deviationColumns + `
		FROM deviations
		WHERE id = ?
		AND deleted_at IS NULL
	`)

	err := s.DB.Get(&deviation, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deviation: %w", err)
	}
	return &deviation, nil
}

func (s *BaseStore) ListMonitorEmails(studyID int64) ([]string, error) {
	var emails []string
	query := s.Converter(`
		SELECT DISTINCT email
		FROM study_monitors
		WHERE study_id = ?
		AND email IS NOT NULL
		ORDER BY email
	`)

	err := s.DB.Select(&emails, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list study monitors: %w", err)
	}
	return emails, nil
}

func (s *BaseStore) ListAuditEntries(deviationID int64) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	query := s.Converter(`
		SELECT deviation_id, study_id, actor, field_name, old_value, new_value, changed_at
		FROM deviation_audit
		WHERE deviation_id = ?
		ORDER BY changed_at ASC, field_name ASC
	`)

	err := s.DB.Select(&entries, query, deviationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// SubmitEvaluation performs the evaluate-and-lock mutation: one conditional
// UPDATE guarded by the version token, plus the audit rows, in a single
// transaction. The version check and the update are a single statement, so
// the database evaluates them atomically; a concurrent editor that committed
// first leaves zero rows matching and the whole attempt rolls back with
// ErrVersionConflict.
func (s *BaseStore) SubmitEvaluation(ctx context.Context, sub models.Submission) (*models.SubmitResult, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prior struct {
		StudyID    int64  `db:"study_id"`
		SeqNumber  int64  `db:"seq_number"`
		Status     string `db:"status"`
		Evaluation string `db:"evaluation_text"`
	}
	err = tx.GetContext(ctx, &prior, s.Converter(`
		SELECT study_id, seq_number, status, COALESCE(evaluation_text, '') AS evaluation_text
		FROM deviations
		WHERE id = ?
		AND deleted_at IS NULL
	`), sub.DeviationID)
	if err == sql.ErrNoRows {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deviation: %w", err)
	}

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, s.Converter(`
		UPDATE deviations
		SET
			evaluation_text = ?,
			status = ?,
			version = version + 1,
			updated_by = ?,
			updated_at = ?
		WHERE id = ?
		AND version = ?
		AND deleted_at IS NULL
	`), sub.Evaluation, models.StatusEvaluated, sub.ActorName, now, sub.DeviationID, sub.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update deviation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return nil, ErrVersionConflict
	}

	// Audit rows share one timestamp per submission for correlation. The
	// status row is skipped when the record was already Evaluated; the CAS
	// precondition makes that unreachable through this pipeline, but the
	// audit invariant is enforced here regardless.
	entries := []models.AuditEntry{{
		DeviationID: sub.DeviationID,
		StudyID:     prior.StudyID,
		Actor:       sub.ActorName,
		FieldName:   models.AuditFieldEvaluation,
		OldValue:    prior.Evaluation,
		NewValue:    sub.Evaluation,
		ChangedAt:   now,
	}}
	if prior.Status != models.StatusEvaluated {
		entries = append(entries, models.AuditEntry{
			DeviationID: sub.DeviationID,
			StudyID:     prior.StudyID,
			Actor:       sub.ActorName,
			FieldName:   models.AuditFieldStatus,
			OldValue:    prior.Status,
			NewValue:    models.StatusEvaluated,
			ChangedAt:   now,
		})
	}

	for _, entry := range entries {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO deviation_audit (deviation_id, study_id, actor, field_name, old_value, new_value, changed_at)
			VALUES (:deviation_id, :study_id, :actor, :field_name, :old_value, :new_value, :changed_at)
		`, entry)
		if err != nil {
			return nil, fmt.Errorf("failed to append audit entry: %w", err)
		}
	}

	// Re-read the assigned token inside the transaction: the UPDATE matched
	// the expected version, so nobody else has touched the row since.
	var newVersion int64
	err = tx.GetContext(ctx, &newVersion, s.Converter(`
		SELECT version FROM deviations WHERE id = ?
	`), sub.DeviationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read new version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	return &models.SubmitResult{
		StudyID:     prior.StudyID,
		SeqNumber:   prior.SeqNumber,
		NewVersion:  newVersion,
		PrevStatus:  prior.Status,
		SubmittedAt: now,
	}, nil
}
