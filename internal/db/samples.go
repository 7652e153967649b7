package db

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/surrealdb/surrealdb.go"
)

// Dataset is a dataset.Dataset whose samples live in the sample table.
type Dataset struct {
	client    *Client
	id        string
	name      string
	mediaType string
}

type datasetRow struct {
	Name      string   `json:"name"`
	MediaType string   `json:"media_type"`
	Schema    []string `json:"schema"`
}

type sampleRow struct {
	SampleID string `json:"sample_id"`
	Filepath string `json:"filepath"`
	Value    any    `json:"value,omitempty"`
}

type countRow struct {
	Count int `json:"count"`
}

var _ dataset.Dataset = (*Dataset)(nil)

// ImportManifest writes a manifest's dataset and samples, replacing any
// samples previously stored for the same dataset id.
func (c *Client) ImportManifest(ctx context.Context, m dataset.Manifest) (*Dataset, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("import manifest: dataset id is required")
	}
	if m.MediaType == "" {
		m.MediaType = dataset.MediaImage
	}

	schema := slices.Clone(m.Schema)
	rows := make([]map[string]any, len(m.Samples))
	for i, s := range m.Samples {
		for f := range s.Fields {
			if _, err := fieldPath(f); err != nil {
				return nil, fmt.Errorf("import manifest: %w", err)
			}
			if !slices.Contains(schema, f) {
				schema = append(schema, f)
			}
		}
		modified := s.LastModifiedAt
		if modified.IsZero() {
			modified = time.Now()
		}
		fields := s.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		tags := s.Tags
		if tags == nil {
			tags = []string{}
		}
		rows[i] = map[string]any{
			"key":              sampleKey(m.ID, s.ID),
			"sample_id":        s.ID,
			"seq":              i,
			"filepath":         s.Filepath,
			"tags":             tags,
			"fields":           fields,
			"last_modified_at": modified,
		}
	}
	slices.Sort(schema)

	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE sample WHERE dataset = $ds;
		UPSERT type::record("dataset", $ds) SET
			name = $name,
			media_type = $media_type,
			schema = $schema;
		FOR $row IN $rows {
			CREATE type::record("sample", $row.key) SET
				dataset = $ds,
				sample_id = $row.sample_id,
				seq = $row.seq,
				filepath = $row.filepath,
				tags = $row.tags,
				fields = $row.fields,
				last_modified_at = $row.last_modified_at;
		};
	`, map[string]any{
		"ds":         m.ID,
		"name":       m.Name,
		"media_type": m.MediaType,
		"schema":     schema,
		"rows":       rows,
	})
	if err != nil {
		return nil, fmt.Errorf("import manifest: %w", wrapQueryError(err))
	}

	c.logger.Info("imported dataset", "dataset", m.ID, "samples", len(m.Samples))
	return &Dataset{client: c, id: m.ID, name: m.Name, mediaType: m.MediaType}, nil
}

// OpenDataset returns the stored dataset with the given id.
// Returns ErrNotFound if it was never imported.
func (c *Client) OpenDataset(ctx context.Context, id string) (*Dataset, error) {
	row, err := c.datasetRow(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Dataset{client: c, id: id, name: row.Name, mediaType: row.MediaType}, nil
}

func (c *Client) datasetRow(ctx context.Context, id string) (*datasetRow, error) {
	results, err := surrealdb.Query[[]datasetRow](ctx, c.db, `
		SELECT name, media_type, schema FROM type::record("dataset", $ds)
	`, map[string]any{"ds": id})
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

func sampleKey(datasetID, sampleID string) string {
	return datasetID + "/" + sampleID
}

func (d *Dataset) ID() string        { return d.id }
func (d *Dataset) Name() string      { return d.name }
func (d *Dataset) MediaType() string { return d.mediaType }

func (d *Dataset) count(ctx context.Context, where string, vars map[string]any) (int, error) {
	vars["ds"] = d.id
	sql := fmt.Sprintf(`SELECT count() AS count FROM sample WHERE dataset = $ds %s GROUP ALL`, where)
	results, err := surrealdb.Query[[]countRow](ctx, d.client.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

func (d *Dataset) Count(ctx context.Context) (int, error) {
	return d.count(ctx, "", map[string]any{})
}

func (d *Dataset) HasField(ctx context.Context, field string) (bool, error) {
	row, err := d.client.datasetRow(ctx, d.id)
	if err != nil {
		return false, err
	}
	return slices.Contains(row.Schema, field), nil
}

func (d *Dataset) CountExists(ctx context.Context, field string, exists bool) (int, error) {
	path, err := fieldPath(field)
	if err != nil {
		return 0, err
	}
	op := "!="
	if !exists {
		op = "="
	}
	return d.count(ctx, fmt.Sprintf("AND %s %s NONE", path, op), map[string]any{})
}

func (d *Dataset) MaxLastModified(ctx context.Context) (time.Time, error) {
	results, err := surrealdb.Query[[]time.Time](ctx, d.client.db, `
		SELECT VALUE last_modified_at FROM sample WHERE dataset = $ds
		ORDER BY last_modified_at DESC LIMIT 1
	`, map[string]any{"ds": d.id})
	if err != nil {
		return time.Time{}, fmt.Errorf("max last modified: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return time.Time{}, nil
	}
	return (*results)[0].Result[0], nil
}

// numeric returns the numeric values of field in dataset order.
func (d *Dataset) numeric(ctx context.Context, field string) ([]float64, error) {
	ok, err := d.HasField(ctx, field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", dataset.ErrFieldMissing, field)
	}
	vals, err := d.Values(ctx, field)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if f, ok := dataset.ToFloat(v.Value); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (d *Dataset) Bounds(ctx context.Context, field string) (float64, float64, error) {
	vals, err := d.numeric(ctx, field)
	if err != nil {
		return 0, 0, err
	}
	if len(vals) == 0 {
		return 0, 0, fmt.Errorf("%w: %s", dataset.ErrNoValues, field)
	}
	return slices.Min(vals), slices.Max(vals), nil
}

func (d *Dataset) Histogram(ctx context.Context, field string, bins int) ([]int, []float64, error) {
	vals, err := d.numeric(ctx, field)
	if err != nil {
		return nil, nil, err
	}
	counts, edges := dataset.BuildHistogram(vals, bins)
	return counts, edges, nil
}

func (d *Dataset) CountInRange(ctx context.Context, field string, lower, upper float64) (int, error) {
	path, err := fieldPath(field)
	if err != nil {
		return 0, err
	}
	where := fmt.Sprintf("AND %[1]s >= $lower AND %[1]s <= $upper", path)
	return d.count(ctx, where, map[string]any{"lower": lower, "upper": upper})
}

func (d *Dataset) Values(ctx context.Context, field string) ([]dataset.FieldValue, error) {
	path, err := fieldPath(field)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`
		SELECT sample_id, %[1]s AS value, seq FROM sample
		WHERE dataset = $ds AND %[1]s != NONE
		ORDER BY seq ASC
	`, path)

	results, err := surrealdb.Query[[]sampleRow](ctx, d.client.db, sql, map[string]any{"ds": d.id})
	if err != nil {
		return nil, fmt.Errorf("values %s: %w", field, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	out := make([]dataset.FieldValue, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		out = append(out, dataset.FieldValue{SampleID: row.SampleID, Value: row.Value})
	}
	return out, nil
}

func (d *Dataset) SetValues(ctx context.Context, field string, values map[string]any) error {
	path, err := fieldPath(field)
	if err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(values))
	for id, v := range values {
		rows = append(rows, map[string]any{"key": sampleKey(d.id, id), "value": v})
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("dataset", $ds) SET schema = array::union(schema, [$field]);
		FOR $row IN $rows {
			UPDATE type::record("sample", $row.key) SET
				%s = $row.value,
				last_modified_at = time::now();
		};
	`, path)

	_, err = surrealdb.Query[any](ctx, d.client.db, sql, map[string]any{
		"ds":    d.id,
		"field": field,
		"rows":  rows,
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", field, wrapQueryError(err))
	}
	return nil
}

func (d *Dataset) SamplePaths(ctx context.Context, missingField string) ([]dataset.SamplePath, error) {
	where := ""
	if missingField != "" {
		path, err := fieldPath(missingField)
		if err != nil {
			return nil, err
		}
		where = fmt.Sprintf("AND %s = NONE", path)
	}
	sql := fmt.Sprintf(`
		SELECT sample_id, filepath, seq FROM sample WHERE dataset = $ds %s ORDER BY seq ASC
	`, where)

	results, err := surrealdb.Query[[]sampleRow](ctx, d.client.db, sql, map[string]any{"ds": d.id})
	if err != nil {
		return nil, fmt.Errorf("sample paths: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []dataset.SamplePath{}, nil
	}

	out := make([]dataset.SamplePath, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		out = append(out, dataset.SamplePath{ID: row.SampleID, Filepath: row.Filepath})
	}
	return out, nil
}

func (d *Dataset) Select(ctx context.Context, view dataset.View) ([]string, error) {
	where := ""
	vars := map[string]any{"ds": d.id}
	switch view.Kind {
	case dataset.ViewRange:
		path, err := fieldPath(view.Field)
		if err != nil {
			return nil, err
		}
		where = fmt.Sprintf("AND %[1]s >= $lower AND %[1]s <= $upper", path)
		vars["lower"] = view.Lower
		vars["upper"] = view.Upper
	case dataset.ViewIn:
		path, err := fieldPath(view.Field)
		if err != nil {
			return nil, err
		}
		where = fmt.Sprintf("AND %s IN $values", path)
		vars["values"] = view.Values
	}

	sortExpr := "NONE"
	if view.SortBy != "" {
		path, err := fieldPath(view.SortBy)
		if err != nil {
			return nil, err
		}
		sortExpr = path
	}

	sql := fmt.Sprintf(`
		SELECT sample_id, %s AS value, seq FROM sample WHERE dataset = $ds %s ORDER BY seq ASC
	`, sortExpr, where)

	results, err := surrealdb.Query[[]sampleRow](ctx, d.client.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("select view: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}

	rows := (*results)[0].Result
	if view.SortBy != "" {
		slices.SortStableFunc(rows, func(a, b sampleRow) int {
			return cmp.Compare(fmt.Sprint(a.Value), fmt.Sprint(b.Value))
		})
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.SampleID
	}
	return ids, nil
}

func (d *Dataset) Tag(ctx context.Context, ids []string, tags []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	results, err := surrealdb.Query[[]sampleRow](ctx, d.client.db, `
		UPDATE sample SET
			tags = array::union(tags, $tags),
			last_modified_at = time::now()
		WHERE dataset = $ds AND sample_id IN $ids
		RETURN sample_id
	`, map[string]any{"ds": d.id, "ids": ids, "tags": tags})
	if err != nil {
		return 0, fmt.Errorf("tag samples: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
