package reduce

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// nestedKeys are the sub-keys accepted for each statistic when a band value
// is itself a dictionary. Another statistic is never substituted.
func nestedKeys(kind Kind) []string {
	return []string{string(kind), strings.ToLower(string(kind)), "value"}
}

// Scalar extracts a single aggregate from a response. The backend may answer
// with a flat value keyed by band ({"LST": 30.1}), a suffixed key
// ({"LST_mean": 30.1}), the reducer name ({"mean": 30.1}) or a nested
// dictionary ({"LST": {"mean": 30.1}}). A nil result means the backend
// returned null, which happens when the region has no valid pixels.
func Scalar(resp Response, band string, kind Kind) (*float64, error) {
	if len(resp) == 0 {
		return nil, nil
	}

	candidates := []string{band, band + "_" + string(kind), string(kind)}
	for _, k := range candidates {
		if v, ok := resp[k]; ok {
			return scalarValue(v, kind)
		}
	}
	if len(resp) == 1 {
		for _, v := range resp {
			return scalarValue(v, kind)
		}
	}
	return nil, eris.Errorf("reduce: no %s value for band %q in response with keys %s", kind, band, strings.Join(keys(resp), ","))
}

func scalarValue(v any, kind Kind) (*float64, error) {
	if m, ok := v.(map[string]any); ok {
		if len(m) == 0 {
			return nil, nil
		}
		for _, k := range nestedKeys(kind) {
			if sub, ok := m[k]; ok {
				return toFloat(sub)
			}
		}
		return nil, eris.Errorf("reduce: nested value has no %s (keys %s)", kind, strings.Join(keys(m), ","))
	}
	return toFloat(v)
}

func toFloat(v any) (*float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return nil, eris.Wrapf(err, "reduce: parse number %q", x.String())
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "reduce: parse number %q", x)
		}
		f = p
	default:
		return nil, eris.Errorf("reduce: unexpected value type %T", v)
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	return &f, nil
}

// Histogram extracts a class→count histogram. Accepted shapes are
// {"<band>": {"7": 12, ...}}, {"histogram": {...}} and a response whose only
// value is the histogram. Fractional counts from weighted reducers are rounded.
func Histogram(resp Response, band string) (map[string]int64, error) {
	if len(resp) == 0 {
		return nil, eris.New("reduce: empty histogram response")
	}

	var raw map[string]any
	for _, k := range []string{band, "histogram", band + "_histogram"} {
		if m, ok := resp[k].(map[string]any); ok {
			raw = m
			break
		}
	}
	if raw == nil && len(resp) == 1 {
		for _, v := range resp {
			raw, _ = v.(map[string]any)
		}
	}
	if raw == nil {
		return nil, eris.Errorf("reduce: no histogram for band %q in response with keys %s", band, strings.Join(keys(resp), ","))
	}

	out := make(map[string]int64, len(raw))
	for class, v := range raw {
		f, err := toFloat(v)
		if err != nil {
			return nil, eris.Wrapf(err, "reduce: histogram class %q", class)
		}
		if f == nil {
			continue
		}
		out[normalizeClass(class)] += int64(math.Round(*f))
	}
	return out, nil
}

// normalizeClass turns "7.0" into "7" so class keys match across backends.
func normalizeClass(k string) string {
	if f, err := strconv.ParseFloat(k, 64); err == nil && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return k
}

func keys(m Response) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
