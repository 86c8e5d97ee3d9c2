package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	emails []string
	err    error
}

func (f *fakeSource) ListMonitorEmails(studyID int64) ([]string, error) {
	return f.emails, f.err
}

func TestDirectory_Resolve(t *testing.T) {
	testCases := []struct {
		name     string
		emails   []string
		exclude  string
		expected []string
	}{
		{
			name:     "excludes actor case-insensitively and dedupes",
			emails:   []string{"a@x", "b@x", "A@X"},
			exclude:  "a@x",
			expected: []string{"b@x"},
		},
		{
			name:     "drops blank entries",
			emails:   []string{"", "  ", "monitor@cro.com"},
			exclude:  "reviewer@empresa.com",
			expected: []string{"monitor@cro.com"},
		},
		{
			name:     "lowercases recipients",
			emails:   []string{"Monitor.A@CRO.com", "monitor.b@cro.com"},
			exclude:  "",
			expected: []string{"monitor.a@cro.com", "monitor.b@cro.com"},
		},
		{
			name:     "no monitors configured is not an error",
			emails:   nil,
			exclude:  "a@x",
			expected: nil,
		},
		{
			name:     "actor is the only monitor",
			emails:   []string{"a@x"},
			exclude:  "A@x ",
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDirectory(&fakeSource{emails: tc.emails})
			recipients, err := d.Resolve(1, tc.exclude)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, recipients)
		})
	}
}

func TestDirectory_ResolvePropagatesSourceError(t *testing.T) {
	d := NewDirectory(&fakeSource{err: errors.New("boom")})
	_, err := d.Resolve(1, "a@x")
	assert.Error(t, err)
}
