package ai

import "strings"

// normalizeAPIKey strips formatting noise that commonly appears in env-var values.
func normalizeAPIKey(raw string) string {
	key := strings.Trim(strings.TrimSpace(raw), `"'`)
	key = strings.TrimSpace(key)
	if len(key) >= len("bearer ") && strings.EqualFold(key[:len("bearer ")], "bearer ") {
		key = key[len("bearer "):]
	}

	// literal escapes first, then anything outside visible ASCII
	key = strings.NewReplacer(`\r`, "", `\n`, "", `\t`, "").Replace(key)
	filtered := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if b := key[i]; b >= 33 && b <= 126 {
			filtered = append(filtered, b)
		}
	}
	return string(filtered)
}

// maskKey keeps the first and last four characters for logs.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
