package app

import (
	"context"
	"sync"

	"github.com/raphaelgruber/dataquality/internal/dataset"
)

// ManifestDataset is an in-memory dataset that writes every change back to
// its manifest file.
type ManifestDataset struct {
	*dataset.Memory
	path string
	mu   sync.Mutex
}

// LoadManifestDataset reads the manifest at path.
func LoadManifestDataset(path string) (*ManifestDataset, error) {
	m, err := dataset.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return &ManifestDataset{Memory: m, path: path}, nil
}

// Path returns the manifest file.
func (d *ManifestDataset) Path() string {
	return d.path
}

func (d *ManifestDataset) SetValues(ctx context.Context, field string, values map[string]any) error {
	if err := d.Memory.SetValues(ctx, field, values); err != nil {
		return err
	}
	return d.save()
}

func (d *ManifestDataset) Tag(ctx context.Context, ids []string, tags []string) (int, error) {
	n, err := d.Memory.Tag(ctx, ids, tags)
	if err != nil || n == 0 {
		return n, err
	}
	return n, d.save()
}

func (d *ManifestDataset) save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Memory.Save(d.path)
}
