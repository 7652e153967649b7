// Package operators computes per-sample data quality fields.
//
// Each issue type has one operator, registered under the logical name in
// the issue dispatch table. Operators read sample media from disk and write
// their field back to the dataset.
package operators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
)

// ErrUnknownOperator indicates no operator is registered under a name.
var ErrUnknownOperator = errors.New("unknown operator")

// ErrUnsupportedMedia indicates the dataset media cannot be scanned.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// Options tunes a single Compute call.
type Options struct {
	// Concurrency bounds the number of samples processed at once.
	Concurrency int
	// OnlyMissing restricts the computation to samples without the field.
	OnlyMissing bool
	// Progress, when set, is called after each sample.
	Progress func(done, total int)
	Logger   *slog.Logger
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return 4
	}
	return o.Concurrency
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Result summarizes a Compute call.
type Result struct {
	Computed int
	Failed   int
}

// Operator computes one issue type's field over a dataset.
type Operator interface {
	Name() string
	Issue() models.IssueType
	Compute(ctx context.Context, ds dataset.Dataset, opts Options) (Result, error)
}

// sampleFunc computes a field value from one sample's media file.
type sampleFunc func(path string) (any, error)

// perSample runs fn over every sample and writes the results to the field.
type perSample struct {
	issue models.IssueType
	fn    sampleFunc
}

func (p *perSample) Name() string            { return p.issue.Operator() }
func (p *perSample) Issue() models.IssueType { return p.issue }

func (p *perSample) Compute(ctx context.Context, ds dataset.Dataset, opts Options) (Result, error) {
	if ds.MediaType() != dataset.MediaImage {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, ds.MediaType())
	}

	missing := ""
	if opts.OnlyMissing {
		missing = p.issue.Field()
	}
	samples, err := ds.SamplePaths(ctx, missing)
	if err != nil {
		return Result{}, fmt.Errorf("list samples: %w", err)
	}

	values, failed, err := mapSamples(ctx, samples, p.fn, opts)
	if err != nil {
		return Result{}, err
	}
	if len(samples) > 0 && len(values) == 0 {
		return Result{Failed: failed}, fmt.Errorf("%s: no sample could be processed", p.Name())
	}
	if err := ds.SetValues(ctx, p.issue.Field(), values); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", p.issue.Field(), err)
	}
	return Result{Computed: len(values), Failed: failed}, nil
}

// mapSamples applies fn to every sample with bounded parallelism. Samples
// whose media cannot be read are logged and counted as failed.
func mapSamples(ctx context.Context, samples []dataset.SamplePath, fn sampleFunc, opts Options) (map[string]any, int, error) {
	var (
		mu     sync.Mutex
		values = make(map[string]any, len(samples))
		failed int
		done   int
	)
	log := opts.logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())

	for _, s := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := fn(s.Filepath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("sample skipped", "sample_id", s.ID, "path", s.Filepath, "error", err)
				failed++
			} else {
				values[s.ID] = v
			}
			done++
			if opts.Progress != nil {
				opts.Progress(done, len(samples))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return values, failed, nil
}

// Registry resolves operators by logical name.
type Registry struct {
	byName map[string]Operator
}

// NewRegistry creates a registry holding ops.
func NewRegistry(ops ...Operator) *Registry {
	r := &Registry{byName: make(map[string]Operator, len(ops))}
	for _, op := range ops {
		r.byName[op.Name()] = op
	}
	return r
}

// DefaultRegistry returns the operators for every issue type.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Brightness(),
		Blurriness(),
		AspectRatio(),
		Entropy(),
		NearDuplicates(),
		FileHash(),
	)
}

// Get returns the operator registered under name.
func (r *Registry) Get(name string) (Operator, error) {
	op, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, name)
	}
	return op, nil
}

// ForIssue returns the operator computing issue's field.
func (r *Registry) ForIssue(issue models.IssueType) (Operator, error) {
	return r.Get(issue.Operator())
}
