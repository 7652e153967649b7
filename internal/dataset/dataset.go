// Package dataset defines the dataset query API the scan engine runs against
// and an in-memory implementation backed by a manifest file.
package dataset

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFieldMissing indicates the field is not part of the dataset schema.
	ErrFieldMissing = errors.New("field missing from dataset schema")

	// ErrNoValues indicates the field exists but no sample carries a value.
	ErrNoValues = errors.New("field has no values")
)

// MediaImage is the only media type the scan operators support.
const MediaImage = "image"

// FieldValue is one sample's value for a field.
type FieldValue struct {
	SampleID string
	Value    any
}

// SamplePath locates a sample's media on disk.
type SamplePath struct {
	ID       string
	Filepath string
}

// Dataset is the query surface the engine needs from a dataset.
// Ordering of returned samples follows dataset order.
type Dataset interface {
	ID() string
	Name() string
	MediaType() string

	Count(ctx context.Context) (int, error)
	// HasField reports whether field is declared in the dataset schema.
	HasField(ctx context.Context, field string) (bool, error)
	// CountExists counts samples whose field is set (exists) or unset (!exists).
	CountExists(ctx context.Context, field string, exists bool) (int, error)
	// MaxLastModified returns the latest sample modification time, zero when empty.
	MaxLastModified(ctx context.Context) (time.Time, error)
	Bounds(ctx context.Context, field string) (minV, maxV float64, err error)
	Histogram(ctx context.Context, field string, bins int) (counts []int, edges []float64, err error)
	CountInRange(ctx context.Context, field string, lower, upper float64) (int, error)
	Values(ctx context.Context, field string) ([]FieldValue, error)
	SetValues(ctx context.Context, field string, values map[string]any) error
	// SamplePaths lists samples, restricted to those missing missingField when non-empty.
	SamplePaths(ctx context.Context, missingField string) ([]SamplePath, error)
	Select(ctx context.Context, view View) ([]string, error)
	Tag(ctx context.Context, ids []string, tags []string) (int, error)
}

// ViewKind selects how a View filters samples.
type ViewKind int

const (
	ViewAll ViewKind = iota
	ViewRange
	ViewIn
)

// View is a filtered, optionally sorted, selection of samples.
type View struct {
	Kind   ViewKind
	Field  string
	Lower  float64
	Upper  float64
	Values []string
	SortBy string
}

// AllView matches every sample.
func AllView() View {
	return View{Kind: ViewAll}
}

// RangeView matches samples with lower <= field <= upper.
func RangeView(field string, lower, upper float64) View {
	return View{Kind: ViewRange, Field: field, Lower: lower, Upper: upper}
}

// InView matches samples whose field value is one of values.
func InView(field string, values []string) View {
	return View{Kind: ViewIn, Field: field, Values: values}
}

// Sorted returns a copy of v ordered by field.
func (v View) Sorted(field string) View {
	v.SortBy = field
	return v
}

// IsAll reports whether the view matches every sample.
func (v View) IsAll() bool {
	return v.Kind == ViewAll
}
