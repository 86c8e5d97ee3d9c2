// internal/store/sqlite/store_test.go
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrobene/avalia/internal/models"
	"github.com/ferrobene/avalia/internal/store"
)

// setupTestDB creates an in-memory SQLite database and initializes schema
func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	// Create tables directly instead of using migrations for tests
	schema := `
	CREATE TABLE IF NOT EXISTS reviewers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		sponsor TEXT
	);

	CREATE TABLE IF NOT EXISTS studies (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS study_reviewers (
		study_id INTEGER NOT NULL,
		reviewer_id INTEGER NOT NULL,
		PRIMARY KEY (study_id, reviewer_id)
	);

	CREATE TABLE IF NOT EXISTS study_monitors (
		study_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		PRIMARY KEY (study_id, email)
	);

	CREATE TABLE IF NOT EXISTS deviations (
		id INTEGER PRIMARY KEY,
		study_id INTEGER NOT NULL,
		seq_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'New',
		participant TEXT,
		site TEXT,
		visit TEXT,
		description TEXT,
		identification TEXT,
		root_cause TEXT,
		corrective_action TEXT,
		preventive_action TEXT,
		importance TEXT,
		evaluation_text TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_by TEXT,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS deviation_audit (
		id INTEGER PRIMARY KEY,
		deviation_id INTEGER NOT NULL,
		study_id INTEGER NOT NULL,
		actor TEXT NOT NULL,
		field_name TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		changed_at DATETIME NOT NULL
	);`

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err, "Failed to create store")

	_, err = s.DB.Exec(schema)
	require.NoError(t, err, "Failed to create schema")

	cleanup := func() {
		err := s.Close()
		require.NoError(t, err, "Failed to close database")
	}

	return s, cleanup
}

func seedStudy(t *testing.T, s *SQLiteStore) {
	t.Helper()
	_, err := s.DB.Exec(`
		INSERT INTO studies (id, code, name, status) VALUES (1, 'S1', 'Phase II Oncology', 'active');
		INSERT INTO reviewers (id, name, email, sponsor) VALUES (10, 'Ana Souza', 'ana.souza@empresa.com', 'Acme');
		INSERT INTO study_reviewers (study_id, reviewer_id) VALUES (1, 10);
		INSERT INTO deviations (id, study_id, seq_number, status, description, version)
		VALUES (7, 1, 7, 'New', 'Missed visit window', 1);
	`)
	require.NoError(t, err, "Failed to seed study")
}

func submission(text string) models.Submission {
	return models.Submission{
		DeviationID:     7,
		ExpectedVersion: 1,
		Evaluation:      text,
		ActorName:       "Ana Souza",
		ActorEmail:      "ana.souza@empresa.com",
	}
}

func TestSubmitEvaluation_Commits(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	text := "Root cause confirmed, no corrective action needed."
	result, err := s.SubmitEvaluation(context.Background(), submission(text))
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.StudyID)
	assert.Equal(t, int64(7), result.SeqNumber)
	assert.Equal(t, models.StatusNew, result.PrevStatus)
	assert.NotEqual(t, int64(1), result.NewVersion, "version token must advance")

	deviation, err := s.GetDeviation(7)
	require.NoError(t, err)
	require.NotNil(t, deviation)
	assert.Equal(t, models.StatusEvaluated, deviation.Status)
	assert.Equal(t, text, deviation.EvaluationText)
	assert.Equal(t, result.NewVersion, deviation.Version)
	assert.Equal(t, "Ana Souza", deviation.UpdatedBy)
}

func TestSubmitEvaluation_WritesAuditPair(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	text := "Evaluated without findings."
	_, err := s.SubmitEvaluation(context.Background(), submission(text))
	require.NoError(t, err)

	entries, err := s.ListAuditEntries(7)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byField := map[string]models.AuditEntry{}
	for _, e := range entries {
		byField[e.FieldName] = e
	}

	evalEntry, ok := byField[models.AuditFieldEvaluation]
	require.True(t, ok, "missing evaluation_text audit entry")
	assert.Equal(t, "", evalEntry.OldValue)
	assert.Equal(t, text, evalEntry.NewValue)
	assert.Equal(t, "Ana Souza", evalEntry.Actor)
	assert.Equal(t, int64(1), evalEntry.StudyID)

	statusEntry, ok := byField[models.AuditFieldStatus]
	require.True(t, ok, "missing status audit entry")
	assert.Equal(t, models.StatusNew, statusEntry.OldValue)
	assert.Equal(t, models.StatusEvaluated, statusEntry.NewValue)

	assert.True(t, evalEntry.ChangedAt.Equal(statusEntry.ChangedAt),
		"audit entries of one submission must share a timestamp")
}

func TestSubmitEvaluation_NoStatusEntryWhenAlreadyEvaluated(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	_, err := s.DB.Exec(`UPDATE deviations SET status = 'Evaluated', evaluation_text = 'first pass' WHERE id = 7`)
	require.NoError(t, err)

	_, err = s.SubmitEvaluation(context.Background(), submission("second pass"))
	require.NoError(t, err)

	entries, err := s.ListAuditEntries(7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditFieldEvaluation, entries[0].FieldName)
	assert.Equal(t, "first pass", entries[0].OldValue)
	assert.Equal(t, "second pass", entries[0].NewValue)
}

func TestSubmitEvaluation_StaleVersionConflicts(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	sub := submission("late to the party")
	sub.ExpectedVersion = 99

	result, err := s.SubmitEvaluation(context.Background(), sub)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Nil(t, result)

	// No observable state change on conflict
	deviation, err := s.GetDeviation(7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, deviation.Status)
	assert.Equal(t, "", deviation.EvaluationText)
	assert.Equal(t, int64(1), deviation.Version)

	entries, err := s.ListAuditEntries(7)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitEvaluation_SecondEditorLoses(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	// Both editors read the record at version 1
	first := submission("winner text")
	second := submission("loser text")
	second.ActorName = "Bruno Lima"

	_, err := s.SubmitEvaluation(context.Background(), first)
	require.NoError(t, err)

	_, err = s.SubmitEvaluation(context.Background(), second)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	deviation, err := s.GetDeviation(7)
	require.NoError(t, err)
	assert.Equal(t, "winner text", deviation.EvaluationText)

	entries, err := s.ListAuditEntries(7)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "exactly one audit pair for the single accepted submission")
}

func TestSubmitEvaluation_MissingOrDeletedRowConflicts(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	sub := submission("whatever")
	sub.DeviationID = 404
	_, err := s.SubmitEvaluation(context.Background(), sub)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	_, err = s.DB.Exec(`UPDATE deviations SET deleted_at = CURRENT_TIMESTAMP WHERE id = 7`)
	require.NoError(t, err)

	_, err = s.SubmitEvaluation(context.Background(), submission("soft-deleted"))
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestSubmitEvaluation_RollsBackWhenAuditAppendFails(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	// Force the audit insert to fail deterministically
	_, err := s.DB.Exec(`DROP TABLE deviation_audit`)
	require.NoError(t, err)

	_, err = s.SubmitEvaluation(context.Background(), submission("doomed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrVersionConflict)

	// Full rollback: the deviation must not appear updated without its audit trail
	deviation, err := s.GetDeviation(7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, deviation.Status)
	assert.Equal(t, "", deviation.EvaluationText)
	assert.Equal(t, int64(1), deviation.Version)
	assert.Equal(t, "", deviation.UpdatedBy)
}

func TestListDeviations_Filters(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	_, err := s.DB.Exec(`
		INSERT INTO deviations (id, study_id, seq_number, status, version) VALUES
			(8, 1, 8, 'Modified', 1),
			(9, 1, 9, 'Evaluated', 2),
			(11, 1, 11, 'New', 1);
		UPDATE deviations SET deleted_at = CURRENT_TIMESTAMP WHERE id = 11;
	`)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		filter   string
		expected []int64
	}{
		{
			name:     "pending excludes evaluated and deleted",
			filter:   store.FilterPending,
			expected: []int64{8, 7},
		},
		{
			name:     "empty filter defaults to pending",
			filter:   "",
			expected: []int64{8, 7},
		},
		{
			name:     "all includes evaluated, still hides deleted",
			filter:   store.FilterAll,
			expected: []int64{9, 8, 7},
		},
		{
			name:     "exact status",
			filter:   models.StatusModified,
			expected: []int64{8},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deviations, err := s.ListDeviations(1, tc.filter)
			require.NoError(t, err)

			var ids []int64
			for _, d := range deviations {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tc.expected, ids)
		})
	}
}

func TestGetReviewerByEmail_CaseInsensitive(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	reviewer, err := s.GetReviewerByEmail("ANA.SOUZA@Empresa.COM")
	require.NoError(t, err)
	require.NotNil(t, reviewer)
	assert.Equal(t, "Ana Souza", reviewer.Name)

	missing, err := s.GetReviewerByEmail("nobody@empresa.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListStudiesForReviewer_PendingCounts(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	_, err := s.DB.Exec(`
		INSERT INTO deviations (id, study_id, seq_number, status, version) VALUES
			(8, 1, 8, 'Evaluated', 2),
			(9, 1, 9, 'Modified', 1);
	`)
	require.NoError(t, err)

	studies, err := s.ListStudiesForReviewer("ana.souza@empresa.com")
	require.NoError(t, err)
	require.Len(t, studies, 1)
	assert.Equal(t, "S1", studies[0].Code)
	assert.Equal(t, int64(2), studies[0].Pending)

	summary, err := s.GetReviewerSummary("ana.souza@empresa.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalStudies)
	assert.Equal(t, int64(2), summary.TotalPending)
	assert.Equal(t, int64(1), summary.StudiesWithPending)
}

func TestListMonitorEmails(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	_, err := s.DB.Exec(`
		INSERT INTO study_monitors (study_id, email) VALUES
			(1, 'monitor.a@cro.com'),
			(1, 'monitor.b@cro.com');
	`)
	require.NoError(t, err)

	emails, err := s.ListMonitorEmails(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"monitor.a@cro.com", "monitor.b@cro.com"}, emails)

	none, err := s.ListMonitorEmails(2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReadAfterWriteBypassesNothing(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	seedStudy(t, s)

	before, err := s.GetDeviation(7)
	require.NoError(t, err)

	result, err := s.SubmitEvaluation(context.Background(), submission("final assessment"))
	require.NoError(t, err)

	after, err := s.GetDeviation(7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEvaluated, after.Status)
	assert.NotEqual(t, before.Version, after.Version)
	assert.Equal(t, result.NewVersion, after.Version)
	assert.WithinDuration(t, time.Now().UTC(), after.UpdatedAt, time.Minute)
}
