package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Deviation status values are canonical and language-neutral; any
// localized rendering happens in the presentation layer.
const (
	StatusNew       = "New"
	StatusModified  = "Modified"
	StatusEvaluated = "Evaluated"
)

type Deviation struct {
	ID               int64     `db:"id" json:"id"`
	StudyID          int64     `db:"study_id" json:"study_id"`
	SeqNumber        int64     `db:"seq_number" json:"seq_number"`
	Status           string    `db:"status" json:"status"`
	Participant      string    `db:"participant" json:"participant"`
	Site             string    `db:"site" json:"site"`
	Visit            string    `db:"visit" json:"visit"`
	Description      string    `db:"description" json:"description"`
	Identification   string    `db:"identification" json:"identification"`
	RootCause        string    `db:"root_cause" json:"root_cause"`
	CorrectiveAction string    `db:"corrective_action" json:"corrective_action"`
	PreventiveAction string    `db:"preventive_action" json:"preventive_action"`
	Importance       string    `db:"importance" json:"importance"`
	EvaluationText   string    `db:"evaluation_text" json:"evaluation_text"`
	Version          int64     `db:"version" json:"version"`
	UpdatedBy        string    `db:"updated_by" json:"updated_by"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Submission is a single evaluate-and-lock request against one deviation.
// ExpectedVersion is the version token the caller last read; the store
// rejects the submission if the row has moved on since.
type Submission struct {
	DeviationID     int64  `json:"deviation_id" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"required"`
	Evaluation      string `json:"evaluation" validate:"required"`
	ActorName       string `json:"actor_name" validate:"required"`
	ActorEmail      string `json:"actor_email" validate:"required,email"`
}

// SubmitResult carries what the post-commit hooks need: the prior field
// values are already in the audit trail, the identifiers feed cache
// invalidation and notification rendering.
type SubmitResult struct {
	StudyID     int64
	SeqNumber   int64
	NewVersion  int64
	PrevStatus  string
	SubmittedAt time.Time
}

func (s *Submission) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}
