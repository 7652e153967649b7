package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to Status
		want     bool
	}{
		{"start scan", StatusNotComputed, StatusComputing, true},
		{"scan completes", StatusComputing, StatusNeedsReview, true},
		{"scan fails", StatusComputing, StatusNotComputed, true},
		{"mark reviewed", StatusNeedsReview, StatusReviewed, true},
		{"reset from review", StatusNeedsReview, StatusNotComputed, true},
		{"reset from reviewed", StatusReviewed, StatusNotComputed, true},
		{"unset status starts", "", StatusComputing, true},
		{"same state", StatusReviewed, StatusReviewed, true},
		{"skip computing", StatusNotComputed, StatusNeedsReview, false},
		{"skip to reviewed", StatusNotComputed, StatusReviewed, false},
		{"review back to computing", StatusNeedsReview, StatusComputing, false},
		{"reviewed back to review", StatusReviewed, StatusNeedsReview, false},
		{"reviewed to computing", StatusReviewed, StatusComputing, false},
		{"computing to reviewed", StatusComputing, StatusReviewed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("In Review")
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsReview, st)

	st, err = ParseStatus("reviewed")
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, st)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Not Started", StatusNotComputed.Label())
	assert.Equal(t, "Scanning Dataset", StatusComputing.Label())
	assert.Equal(t, "bogus", Status("bogus").Label())
}

func TestParseExecutionType(t *testing.T) {
	for in, want := range map[string]ExecutionType{
		"execute":            ExecutionImmediate,
		"immediate":          ExecutionImmediate,
		"":                   ExecutionImmediate,
		"delegate":           ExecutionDelegated,
		"delegated":          ExecutionDelegated,
		"delegate_execution": ExecutionDelegated,
	} {
		got, err := ParseExecutionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseExecutionType("later")
	assert.Error(t, err)
}
