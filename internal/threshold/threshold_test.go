package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/dataquality/internal/models"
)

func TestPlotDefaults(t *testing.T) {
	tests := []struct {
		name       string
		cfg        models.ThresholdConfig
		minV, maxV float64
		wantLo     float64
		wantHi     float64
	}{
		{
			name:   "percentage of range",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodPercentage, Min: 0.1, Max: 0.9},
			minV: 0, maxV: 100,
			wantLo: 10, wantHi: 90,
		},
		{
			name:   "percentage with offset range",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodPercentage, Min: 0.55, Max: 1.0},
			minV: 20, maxV: 120,
			wantLo: 75, wantHi: 120,
		},
		{
			name:   "percentage lower beyond max falls back to min",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodPercentage, Min: 1.5, Max: 2},
			minV: 0, maxV: 10,
			wantLo: 0, wantHi: 20,
		},
		{
			name:   "percentage upper below lower collapses",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodPercentage, Min: 0.8, Max: 0.2},
			minV: 0, maxV: 10,
			wantLo: 0, wantHi: 0,
		},
		{
			name:   "percentage negative upper falls back to max",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodPercentage, Min: 0, Max: -1},
			minV: 0, maxV: 10,
			wantLo: 0, wantHi: 10,
		},
		{
			name:   "threshold fully above range collapses to lower",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodThreshold, Min: 150, Max: 200},
			minV: 0, maxV: 100,
			wantLo: 150, wantHi: 150,
		},
		{
			name:   "threshold fully below range collapses to upper",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodThreshold, Min: -20, Max: -5},
			minV: 0, maxV: 100,
			wantLo: -5, wantHi: -5,
		},
		{
			name:   "threshold passes through",
			cfg:    models.ThresholdConfig{DetectMethod: models.MethodThreshold, Min: 0, Max: 0},
			minV: 0, maxV: 4,
			wantLo: 0, wantHi: 0,
		},
		{
			name: "saved bounds win inside range",
			cfg: models.ThresholdConfig{
				DetectMethod: models.MethodPercentage, Min: 0.1, Max: 0.9,
				Saved: &models.Bounds{Min: 33, Max: 44},
			},
			minV: 0, maxV: 100,
			wantLo: 33, wantHi: 44,
		},
		{
			name: "saved bounds at zero are still saved",
			cfg: models.ThresholdConfig{
				DetectMethod: models.MethodPercentage, Min: 0.5, Max: 0.9,
				Saved: &models.Bounds{Min: 0, Max: 0.25},
			},
			minV: 0, maxV: 1,
			wantLo: 0, wantHi: 0.25,
		},
		{
			name: "saved bounds outside range collapse",
			cfg: models.ThresholdConfig{
				DetectMethod: models.MethodPercentage, Min: 0.1, Max: 0.9,
				Saved: &models.Bounds{Min: 150, Max: 200},
			},
			minV: 0, maxV: 100,
			wantLo: 150, wantHi: 150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := PlotDefaults(tt.cfg, tt.minV, tt.maxV)
			assert.InDelta(t, tt.wantLo, lo, 1e-9)
			assert.InDelta(t, tt.wantHi, hi, 1e-9)
		})
	}
}

func TestRange(t *testing.T) {
	tests := []struct {
		name             string
		minV, maxV       float64
		lo, hi           float64
		wantMin, wantMax float64
	}{
		{"inside", 2, 8, 0, 10, 2, 8},
		{"lower out", -5, 8, 0, 10, -5, 0},
		{"upper out", 2, 15, 0, 10, 10, 15},
		{"both out lower further", -20, 12, 0, 10, -20, 0},
		{"both out upper further", -1, 30, 0, 10, 10, 30},
		{"both out tie picks upper", -5, 15, 0, 10, 10, 15},
		{"inverted inside", 5, -3, 0, 10, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMin, gotMax := Range(tt.minV, tt.maxV, tt.lo, tt.hi)
			assert.Equal(t, tt.wantMin, gotMin)
			assert.Equal(t, tt.wantMax, gotMax)
		})
	}
}

func TestRangeIdempotent(t *testing.T) {
	bounds := [][2]float64{{0, 10}, {-3, 3}, {5, 5}}
	values := []float64{-50, -10, -3, -1, 0, 0.5, 3, 5, 7, 10, 11, 40}

	for _, b := range bounds {
		for _, a := range values {
			for _, c := range values {
				once0, once1 := Range(a, c, b[0], b[1])
				twice0, twice1 := Range(once0, once1, b[0], b[1])
				assert.Equal(t, once0, twice0, "min=%v max=%v bounds=%v", a, c, b)
				assert.Equal(t, once1, twice1, "min=%v max=%v bounds=%v", a, c, b)
			}
		}
	}
}

func TestSplitHistogram(t *testing.T) {
	counts := []int{4, 5, 6, 7}
	edges := []float64{0, 1, 2, 3, 4}

	in, out := SplitHistogram(counts, edges, 1, 2.5)
	assert.Equal(t, []int{0, 5, 6, 0}, in)
	assert.Equal(t, []int{4, 0, 0, 7}, out)

	in, out = SplitHistogram(counts, edges[:3], 0, 10)
	assert.Equal(t, []int{4, 5}, in)
	assert.Equal(t, []int{0, 0}, out)

	in, out = SplitHistogram(nil, nil, 0, 1)
	assert.Empty(t, in)
	assert.Empty(t, out)
}
