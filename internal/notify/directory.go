package notify

import (
	"fmt"
	"sort"
	"strings"
)

// MonitorSource lists the monitor emails configured for a study. The store
// satisfies this.
type MonitorSource interface {
	ListMonitorEmails(studyID int64) ([]string, error)
}

// Directory resolves the notification recipients for a study. The set is
// computed fresh per submission, never cached.
type Directory struct {
	source MonitorSource
}

func NewDirectory(source MonitorSource) *Directory {
	return &Directory{source: source}
}

// Resolve returns the distinct monitor addresses for the study, lower-cased,
// minus the submitting actor. An empty result is a normal outcome, not an
// error: some studies simply have no monitors configured.
func (d *Directory) Resolve(studyID int64, excludeEmail string) ([]string, error) {
	emails, err := d.source.ListMonitorEmails(studyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	exclude := strings.ToLower(strings.TrimSpace(excludeEmail))

	seen := make(map[string]bool)
	var recipients []string
	for _, email := range emails {
		addr := strings.ToLower(strings.TrimSpace(email))
		if addr == "" || addr == exclude || seen[addr] {
			continue
		}
		seen[addr] = true
		recipients = append(recipients, addr)
	}

	sort.Strings(recipients)
	return recipients, nil
}
