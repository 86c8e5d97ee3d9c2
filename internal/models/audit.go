package models

import "time"

// Audited field names, one audit row per mutated field per submission.
const (
	AuditFieldEvaluation = "evaluation_text"
	AuditFieldStatus     = "status"
)

// AuditEntry rows are append-only; nothing in the system updates or
// deletes them once written.
type AuditEntry struct {
	DeviationID int64     `db:"deviation_id" json:"deviation_id"`
	StudyID     int64     `db:"study_id" json:"study_id"`
	Actor       string    `db:"actor" json:"actor"`
	FieldName   string    `db:"field_name" json:"field_name"`
	OldValue    string    `db:"old_value" json:"old_value"`
	NewValue    string    `db:"new_value" json:"new_value"`
	ChangedAt   time.Time `db:"changed_at" json:"changed_at"`
}
