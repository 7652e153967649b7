package service

import (
	"maps"
	"slices"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
)

// Screen is the panel screen a session is on.
type Screen string

const (
	ScreenHome     Screen = "home"
	ScreenPreLoad  Screen = "pre_load_compute"
	ScreenAnalysis Screen = "analysis"
)

// Alerts shown to the user after an event.
const (
	AlertNone      = ""
	AlertReviewed  = "reviewed"
	AlertInReview  = "in_review"
	AlertTagging   = "tagging"
	alertFailedFmt = "computation_failed_%s"
)

// Session is the ephemeral state of one panel session. It is rebuilt from
// the scan record on Load and dropped on Unload.
type Session struct {
	Screen      Screen
	Issue       models.IssueType
	Alert       string
	Tags        []string
	FirstOpen   bool
	DatasetName string
	// NewSampleScan is cleared once every issue has been checked for new
	// samples; no further checks run in the session after that.
	NewSampleScan bool
	NewSamples    map[models.IssueType]models.NewSampleTracker

	// Lower and Upper are the current histogram thresholds, nil when unset.
	Lower *float64
	Upper *float64

	Config    map[models.IssueType]models.ThresholdConfig
	Computing map[models.IssueType]models.Computing

	View     dataset.View
	Selected []string

	loaded bool
}

func newSession(datasetName string) Session {
	s := Session{
		Screen:        ScreenHome,
		DatasetName:   datasetName,
		NewSampleScan: true,
		NewSamples:    make(map[models.IssueType]models.NewSampleTracker),
		Config:        make(map[models.IssueType]models.ThresholdConfig),
		Computing:     make(map[models.IssueType]models.Computing),
		View:          dataset.AllView(),
	}
	for _, t := range models.AllIssueTypes() {
		s.NewSamples[t] = models.NewSampleTracker{}
		s.Config[t] = models.DefaultThresholdConfig(t)
		s.Computing[t] = models.Computing{}
	}
	return s
}

func (s Session) clone() Session {
	c := s
	c.Tags = slices.Clone(s.Tags)
	c.Selected = slices.Clone(s.Selected)
	c.NewSamples = maps.Clone(s.NewSamples)
	c.Config = maps.Clone(s.Config)
	c.Computing = maps.Clone(s.Computing)
	if s.Lower != nil {
		v := *s.Lower
		c.Lower = &v
	}
	if s.Upper != nil {
		v := *s.Upper
		c.Upper = &v
	}
	return c
}

// Thresholds returns the current histogram thresholds.
func (s Session) Thresholds() (lower, upper float64, ok bool) {
	if s.Lower == nil || s.Upper == nil {
		return 0, 0, false
	}
	return *s.Lower, *s.Upper, true
}

func (s *Session) setThresholds(lower, upper float64) {
	s.Lower = &lower
	s.Upper = &upper
}

func (s *Session) clearThresholds() {
	s.Lower = nil
	s.Upper = nil
}

// ComputingIssues lists issues with a computation in flight, in display order.
func (s Session) ComputingIssues() []models.IssueType {
	var out []models.IssueType
	for _, t := range models.AllIssueTypes() {
		if s.Computing[t].IsComputing {
			out = append(out, t)
		}
	}
	return out
}
