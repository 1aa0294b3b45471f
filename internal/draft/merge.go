package draft

import "github.com/example/dispatch-console/internal/models"

// Merge returns dst with src merged in. Nested objects are merged key by
// key; any other value in src replaces the one in dst. Neither input is modified.
func Merge(dst, src models.Fields) models.Fields {
	out := make(models.Fields, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if sm, ok := asObject(v); ok {
			if dm, ok := asObject(out[k]); ok {
				out[k] = map[string]any(Merge(dm, sm))
				continue
			}
		}
		out[k] = v
	}
	return out
}

func asObject(v any) (models.Fields, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.Fields:
		return m, true
	}
	return nil, false
}
