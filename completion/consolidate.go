package completion

import "strings"

// Consolidate merges field values across records in the order given. Later
// records overwrite earlier ones; nil values and blank strings never
// overwrite anything.
func Consolidate(records []Record) map[string]any {
	merged := make(map[string]any)
	for _, rec := range records {
		for key, value := range rec.FieldValues {
			if isBlank(value) {
				continue
			}
			merged[key] = value
		}
	}
	return merged
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}
