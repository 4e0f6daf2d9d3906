package index

// FlattenMetadata drops entries the index server rejects or wastes space on:
// nils, empty strings, and empty or all-empty string slices. Nested maps are
// not supported by the server and are dropped outright.
func FlattenMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
			out[k] = val
		case []string:
			kept := make([]string, 0, len(val))
			for _, s := range val {
				if s != "" {
					kept = append(kept, s)
				}
			}
			if len(kept) == 0 {
				continue
			}
			out[k] = kept
		case []any:
			if len(val) == 0 {
				continue
			}
			out[k] = val
		case map[string]any:
			continue
		default:
			out[k] = val
		}
	}
	return out
}
