// Package models defines data structures for the data quality scan engine.
package models

import (
	"fmt"
	"strings"
)

// IssueType identifies one of the six supported data quality checks.
type IssueType string

const (
	IssueBrightness      IssueType = "brightness"
	IssueBlurriness      IssueType = "blurriness"
	IssueAspectRatio     IssueType = "aspect_ratio"
	IssueEntropy         IssueType = "entropy"
	IssueNearDuplicates  IssueType = "near_duplicates"
	IssueExactDuplicates IssueType = "exact_duplicates"
)

// DetectionKind describes how an issue's results are produced and stored.
type DetectionKind int

const (
	// KindHistogram issues store a histogram over a numeric field and flag
	// samples whose value falls inside the threshold range.
	KindHistogram DetectionKind = iota + 1
	// KindDuplicates issues group samples by an identical hash value.
	KindDuplicates
)

// IssueDef is one row of the issue dispatch table.
type IssueDef struct {
	Type     IssueType
	Field    string
	Kind     DetectionKind
	Operator string
	Title    string
	// WaitWeight is the estimated seconds of compute per 5000 samples.
	WaitWeight int
}

// issueTable lists every issue type in display order.
var issueTable = []IssueDef{
	{IssueBrightness, "brightness", KindHistogram, "@dataquality/compute_brightness", "Brightness", 45},
	{IssueBlurriness, "blurriness", KindHistogram, "@dataquality/compute_blurriness", "Blurriness", 45},
	{IssueAspectRatio, "aspect_ratio", KindHistogram, "@dataquality/compute_aspect_ratio", "Aspect Ratio", 45},
	{IssueEntropy, "entropy", KindHistogram, "@dataquality/compute_entropy", "Entropy", 45},
	{IssueNearDuplicates, "nearest_neighbor", KindHistogram, "@dataquality/compute_near_duplicates", "Near Duplicates", 135},
	{IssueExactDuplicates, "filehash", KindDuplicates, "@dataquality/compute_exact_duplicates", "Exact Duplicates", 90},
}

// AllIssueTypes returns every issue type in display order.
func AllIssueTypes() []IssueType {
	out := make([]IssueType, len(issueTable))
	for i, s := range issueTable {
		out[i] = s.Type
	}
	return out
}

// ParseIssueType converts a string into an IssueType.
// Accepts the canonical name or the display title ("Aspect Ratio").
func ParseIssueType(s string) (IssueType, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	for _, def := range issueTable {
		if string(def.Type) == norm {
			return def.Type, nil
		}
	}
	return "", fmt.Errorf("unknown issue type: %q", s)
}

// Def returns the dispatch table row for the issue type.
// The zero IssueDef is returned for unknown types.
func (t IssueType) Def() IssueDef {
	for _, def := range issueTable {
		if def.Type == t {
			return def
		}
	}
	return IssueDef{}
}

// Valid reports whether t is one of the six known issue types.
func (t IssueType) Valid() bool {
	return t.Def().Type != ""
}

// Field returns the dataset field the issue's operator writes.
func (t IssueType) Field() string {
	return t.Def().Field
}

// Kind returns the issue's detection kind.
func (t IssueType) Kind() DetectionKind {
	return t.Def().Kind
}

// IsHistogram reports whether results for t are a histogram.
func (t IssueType) IsHistogram() bool {
	return t.Kind() == KindHistogram
}

// Operator returns the logical operator name computing the issue's field.
func (t IssueType) Operator() string {
	return t.Def().Operator
}

// Title returns the display title of the issue type.
func (t IssueType) Title() string {
	return t.Def().Title
}

// Words returns the issue name in lowercase words ("aspect ratio").
func (t IssueType) Words() string {
	return strings.ReplaceAll(string(t), "_", " ")
}
