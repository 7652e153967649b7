package operators

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/zeebo/blake3"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
)

// FileHash computes the BLAKE3 digest of each sample's file.
func FileHash() Operator {
	return &perSample{issue: models.IssueExactDuplicates, fn: hashFile}
}

func hashFile(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// nearDuplicates scores each sample by the normalized Hamming distance
// between its difference hash and that of its nearest neighbor. Scores are
// in [0, 1]; 0 means a visually identical image exists elsewhere.
type nearDuplicates struct{}

// NearDuplicates returns the nearest-neighbor distance operator. It always
// rescores the whole dataset, since a new sample can become the nearest
// neighbor of an existing one.
func NearDuplicates() Operator {
	return nearDuplicates{}
}

func (nearDuplicates) Name() string            { return models.IssueNearDuplicates.Operator() }
func (nearDuplicates) Issue() models.IssueType { return models.IssueNearDuplicates }

func (n nearDuplicates) Compute(ctx context.Context, ds dataset.Dataset, opts Options) (Result, error) {
	if ds.MediaType() != dataset.MediaImage {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, ds.MediaType())
	}
	samples, err := ds.SamplePaths(ctx, "")
	if err != nil {
		return Result{}, fmt.Errorf("list samples: %w", err)
	}

	hashes, failed, err := mapSamples(ctx, samples, func(path string) (any, error) {
		img, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		return dHash(img), nil
	}, opts)
	if err != nil {
		return Result{}, err
	}
	if len(samples) > 0 && len(hashes) == 0 {
		return Result{Failed: failed}, fmt.Errorf("%s: no sample could be processed", n.Name())
	}

	values := nearestDistances(hashes)
	if err := ds.SetValues(ctx, models.IssueNearDuplicates.Field(), values); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", models.IssueNearDuplicates.Field(), err)
	}
	return Result{Computed: len(values), Failed: failed}, nil
}

// nearestDistances maps each id to the distance of its closest other hash.
// A lone sample has distance 1.
func nearestDistances(hashes map[string]any) map[string]any {
	out := make(map[string]any, len(hashes))
	for id, h := range hashes {
		best := 64
		for other, oh := range hashes {
			if other == id {
				continue
			}
			if d := bits.OnesCount64(h.(uint64) ^ oh.(uint64)); d < best {
				best = d
			}
		}
		out[id] = float64(best) / 64
	}
	return out
}
