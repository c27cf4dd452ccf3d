package reduce

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarShapes(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		kind Kind
		want *float64
	}{
		{"flat band key", Response{"LST_Day_1km": 31.5}, Mean, ptr(31.5)},
		{"suffixed key", Response{"LST_Day_1km_stdDev": 1.2}, StdDev, ptr(1.2)},
		{"reducer key", Response{"count": 120.0}, Count, ptr(120)},
		{"nested dict", Response{"LST_Day_1km": map[string]any{"mean": 29.8}}, Mean, ptr(29.8)},
		{"nested lowercase stddev", Response{"LST_Day_1km": map[string]any{"stddev": 0.4}}, StdDev, ptr(0.4)},
		{"single unknown key", Response{"band_0": 12.0}, Mean, ptr(12)},
		{"null value", Response{"LST_Day_1km": nil}, Mean, nil},
		{"empty response", Response{}, Mean, nil},
		{"json number", Response{"LST_Day_1km": json.Number("7")}, Count, ptr(7)},
		{"string number", Response{"LST_Day_1km": "2.5"}, Mean, ptr(2.5)},
		{"nested null", Response{"LST_Day_1km": map[string]any{"mean": nil, "count": 0.0}}, Mean, nil},
		{"nested value key", Response{"LST_Day_1km": map[string]any{"value": 3.0}}, Count, ptr(3)},
		{"nested picks requested stat", Response{"LST_Day_1km": map[string]any{"mean": 30.1, "count": 88.0}}, Count, ptr(88)},
		{"empty nested", Response{"LST_Day_1km": map[string]any{}}, Mean, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scalar(tt.resp, "LST_Day_1km", tt.kind)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-12)
		})
	}
}

func TestScalarErrors(t *testing.T) {
	_, err := Scalar(Response{"a": 1.0, "b": 2.0}, "LST", Mean)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "a,b")

	_, err = Scalar(Response{"LST": "abc"}, "LST", Mean)
	assert.Error(t, err)

	_, err = Scalar(Response{"LST": []int{1}}, "LST", Mean)
	assert.Error(t, err)
}

func TestScalarNestedMissingStatistic(t *testing.T) {
	got, err := Scalar(Response{"LST": map[string]any{"mean": 30.1, "stdDev": 1.2}}, "LST", Count)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "no count")

	_, err = Scalar(Response{"LST": map[string]any{"p50": 1.0}}, "LST", Mean)
	assert.Error(t, err)
}

func TestHistogramShapes(t *testing.T) {
	h, err := Histogram(Response{"b1": map[string]any{"7": 10.0, "1": 3.0, "11.0": 2.6}}, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"7": 10, "1": 3, "11": 3}, h)

	h, err = Histogram(Response{"histogram": map[string]any{"2": 4.0}}, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2": 4}, h)

	h, err = Histogram(Response{"remapped": map[string]any{"5": 1.0, "8": nil}}, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"5": 1}, h)
}

func TestHistogramErrors(t *testing.T) {
	_, err := Histogram(Response{}, "b1")
	assert.Error(t, err)

	_, err = Histogram(Response{"b1": 3.0}, "b1")
	assert.Error(t, err)

	_, err = Histogram(Response{"b1": map[string]any{"7": "x"}}, "b1")
	assert.Error(t, err)
}

func ptr(f float64) *float64 { return &f }
