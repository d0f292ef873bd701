package textutil

import "strings"

// NormalizeStringMap tidies the template variable maps queued to the mail
// worker: keys and values are trimmed and entries with empty keys dropped,
// so a sloppy caller cannot produce a template slot that renders whitespace.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
