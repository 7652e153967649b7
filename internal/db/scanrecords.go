package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

type storeRow struct {
	Value string `json:"value"`
}

// GetScanRecord loads the scan record stored under key.
// Returns store.ErrNotFound when the key has never been written.
func (c *Client) GetScanRecord(ctx context.Context, key string) (*models.ScanRecord, error) {
	results, err := surrealdb.Query[[]storeRow](ctx, c.db, `
		SELECT value FROM type::record("execution_store", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get scan record: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return store.Decode([]byte((*results)[0].Result[0].Value))
}

// PutScanRecord replaces the scan record stored under key.
func (c *Client) PutScanRecord(ctx context.Context, key string, rec *models.ScanRecord) error {
	data, err := store.Encode(rec)
	if err != nil {
		return err
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("execution_store", $key) SET
			value = $value,
			updated = time::now()
	`, map[string]any{"key": key, "value": string(data)})
	if err != nil {
		return fmt.Errorf("put scan record: %w", wrapQueryError(err))
	}
	return nil
}
