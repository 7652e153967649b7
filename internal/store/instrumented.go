package store

import (
	"context"

	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/models"
)

// Instrumented records timing of every call to the wrapped Repository.
type Instrumented struct {
	next    Repository
	metrics *metrics.Collector
}

// NewInstrumented wraps next with metric collection.
func NewInstrumented(next Repository, m *metrics.Collector) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

func (i *Instrumented) GetScanRecord(ctx context.Context, key string) (rec *models.ScanRecord, err error) {
	done := i.metrics.Track(metrics.OpStoreGet)
	defer func() { done(err) }()
	return i.next.GetScanRecord(ctx, key)
}

func (i *Instrumented) PutScanRecord(ctx context.Context, key string, rec *models.ScanRecord) (err error) {
	done := i.metrics.Track(metrics.OpStorePut)
	defer func() { done(err) }()
	return i.next.PutScanRecord(ctx, key, rec)
}
