package models

type Reviewer struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Email   string `db:"email" json:"email"`
	Sponsor string `db:"sponsor" json:"sponsor"`
}

type Study struct {
	ID     int64  `db:"id" json:"id"`
	Code   string `db:"code" json:"code"`
	Name   string `db:"name" json:"name"`
	Status string `db:"status" json:"status"`
}

// StudySummary is one row of the reviewer's study list, with the count of
// deviations still waiting for an evaluation.
type StudySummary struct {
	ID      int64  `db:"id" json:"id"`
	Code    string `db:"code" json:"code"`
	Name    string `db:"name" json:"name"`
	Pending int64  `db:"pending" json:"pending"`
}

type ReviewerSummary struct {
	TotalStudies       int64 `db:"total_studies" json:"total_studies"`
	TotalPending       int64 `db:"total_pending" json:"total_pending"`
	StudiesWithPending int64 `db:"studies_with_pending" json:"studies_with_pending"`
}
