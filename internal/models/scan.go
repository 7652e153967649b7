package models

import "time"

// DetectMethod selects how a ThresholdConfig's Min/Max are interpreted.
type DetectMethod string

const (
	// MethodPercentage treats Min/Max as fractions of the observed value range.
	MethodPercentage DetectMethod = "percentage"
	// MethodThreshold treats Min/Max as absolute field values.
	MethodThreshold DetectMethod = "threshold"
)

// Bounds is an absolute [Min, Max] field value range.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ThresholdConfig is the per-issue threshold configuration.
type ThresholdConfig struct {
	DetectMethod DetectMethod `json:"detect_method"`
	Min          float64      `json:"min"`
	Max          float64      `json:"max"`
	// Saved holds absolute thresholds written by "Save Threshold".
	// When present and inside the observed bounds they win over Min/Max.
	Saved *Bounds `json:"saved,omitempty"`
}

// DefaultThresholdConfig returns the factory threshold configuration for t.
func DefaultThresholdConfig(t IssueType) ThresholdConfig {
	switch t {
	case IssueBrightness:
		return ThresholdConfig{DetectMethod: MethodPercentage, Min: 0.55, Max: 1.0}
	case IssueExactDuplicates:
		return ThresholdConfig{DetectMethod: MethodThreshold, Min: 0, Max: 0}
	default:
		return ThresholdConfig{DetectMethod: MethodPercentage, Min: 0.0, Max: 0.15}
	}
}

// DuplicateGroup is one hash value with the ids of every sample sharing it.
type DuplicateGroup struct {
	Hash      string   `json:"hash"`
	SampleIDs []string `json:"sample_ids"`
}

// Results holds an issue's stored scan output. Histogram issues fill
// Counts/Edges; exact duplicates fill DupFilehash/DupSampleIDs.
type Results struct {
	Counts       []int            `json:"counts"`
	Edges        []float64        `json:"edges"`
	DupFilehash  []string         `json:"dup_filehash,omitempty"`
	DupSampleIDs []DuplicateGroup `json:"dup_sample_ids,omitempty"`
}

// HasHistogram reports whether both counts and edges were recorded.
func (r Results) HasHistogram() bool {
	return r.Counts != nil && r.Edges != nil
}

// LastScan records when an issue was last scanned and over how many samples.
type LastScan struct {
	Timestamp   time.Time `json:"timestamp"`
	DatasetSize int       `json:"dataset_size"`
}

// Computing is the in-flight computation state of one issue.
type Computing struct {
	IsComputing      bool          `json:"is_computing"`
	ExecutionType    ExecutionType `json:"execution_type"`
	DelegationRunID  string        `json:"delegation_run_id"`
	DelegationStatus string        `json:"delegation_status"`
	// StartedAt is when the scan was started, nil for records written
	// before it was tracked.
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ScanRecord is the persisted aggregate for one dataset. It is read and
// written as a whole; there are no field-level updates.
type ScanRecord struct {
	Config        map[IssueType]ThresholdConfig `json:"config"`
	Counts        map[IssueType]int             `json:"counts"`
	CurrentCounts map[IssueType]*int            `json:"current_counts"`
	Status        map[IssueType]Status          `json:"status"`
	Results       map[IssueType]Results         `json:"results"`
	LastScan      map[IssueType]*LastScan       `json:"last_scan"`
	Computing     map[IssueType]Computing       `json:"computing"`
}

// NewScanRecord returns the record written on a dataset's first open.
func NewScanRecord() *ScanRecord {
	rec := &ScanRecord{}
	rec.Normalize()
	return rec
}

// Normalize fills any missing map or per-issue entry with its default.
// Records written by older versions load without nil checks downstream.
func (r *ScanRecord) Normalize() {
	if r.Config == nil {
		r.Config = make(map[IssueType]ThresholdConfig)
	}
	if r.Counts == nil {
		r.Counts = make(map[IssueType]int)
	}
	if r.CurrentCounts == nil {
		r.CurrentCounts = make(map[IssueType]*int)
	}
	if r.Status == nil {
		r.Status = make(map[IssueType]Status)
	}
	if r.Results == nil {
		r.Results = make(map[IssueType]Results)
	}
	if r.LastScan == nil {
		r.LastScan = make(map[IssueType]*LastScan)
	}
	if r.Computing == nil {
		r.Computing = make(map[IssueType]Computing)
	}
	for _, t := range AllIssueTypes() {
		if _, ok := r.Config[t]; !ok {
			r.Config[t] = DefaultThresholdConfig(t)
		}
		if _, ok := r.Counts[t]; !ok {
			r.Counts[t] = 0
		}
		if _, ok := r.CurrentCounts[t]; !ok {
			r.CurrentCounts[t] = nil
		}
		if s, ok := r.Status[t]; !ok || !s.Valid() {
			r.Status[t] = StatusNotComputed
		}
		if _, ok := r.Results[t]; !ok {
			r.Results[t] = Results{}
		}
		if _, ok := r.LastScan[t]; !ok {
			r.LastScan[t] = nil
		}
		if _, ok := r.Computing[t]; !ok {
			r.Computing[t] = Computing{}
		}
	}
}

// NewSampleTracker is the per-issue outcome of new-sample detection.
type NewSampleTracker struct {
	Count           int  `json:"count"`
	Checked         bool `json:"checked"`
	RescanCompleted bool `json:"rescan_completed"`
}
