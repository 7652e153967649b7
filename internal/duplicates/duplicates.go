// Package duplicates groups samples that share an identical content hash.
package duplicates

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
)

// Result is the outcome of an exact-duplicate pass.
type Result struct {
	// Hashes lists every hash shared by two or more samples.
	Hashes []string
	// Groups pairs each duplicate hash with its sample ids.
	Groups []models.DuplicateGroup
	// Count is the number of samples across all groups.
	Count int
}

// Group groups ids by hashes[i]. Only hashes with at least two members form
// a group. Hashes and groups follow first-encounter order, and ids keep
// their input order within a group.
func Group(ids, hashes []string) Result {
	n := min(len(ids), len(hashes))

	counts := make(map[string]int, n)
	var order []string
	for _, h := range hashes[:n] {
		if counts[h] == 0 {
			order = append(order, h)
		}
		counts[h]++
	}

	res := Result{Hashes: []string{}, Groups: []models.DuplicateGroup{}}
	members := make(map[string]int)
	for _, h := range order {
		if counts[h] > 1 {
			members[h] = len(res.Groups)
			res.Hashes = append(res.Hashes, h)
			res.Groups = append(res.Groups, models.DuplicateGroup{Hash: h, SampleIDs: make([]string, 0, counts[h])})
		}
	}
	if len(res.Groups) == 0 {
		return res
	}

	for i, h := range hashes[:n] {
		if g, ok := members[h]; ok {
			res.Groups[g].SampleIDs = append(res.Groups[g].SampleIDs, ids[i])
			res.Count++
		}
	}
	return res
}

// Source is the part of a dataset a duplicate scan reads.
type Source interface {
	HasField(ctx context.Context, field string) (bool, error)
	Values(ctx context.Context, field string) ([]dataset.FieldValue, error)
}

// Scan groups the samples of src by their field value. A dataset without
// the field yields an empty result rather than an error.
func Scan(ctx context.Context, src Source, field string) (Result, error) {
	has, err := src.HasField(ctx, field)
	if err != nil {
		return Result{}, fmt.Errorf("check %s field: %w", field, err)
	}
	if !has {
		return Group(nil, nil), nil
	}

	values, err := src.Values(ctx, field)
	if err != nil {
		return Result{}, fmt.Errorf("read %s values: %w", field, err)
	}

	ids := make([]string, 0, len(values))
	hashes := make([]string, 0, len(values))
	for _, v := range values {
		h, ok := v.Value.(string)
		if !ok || h == "" {
			continue
		}
		ids = append(ids, v.SampleID)
		hashes = append(hashes, h)
	}
	return Group(ids, hashes), nil
}
