package log

import (
	"strings"
)

// SanitizeField checks if the key contains sensitive keywords and sanitizes
// the value before it reaches the log sink.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	// Connection strings carry credentials; mask just the password part so
	// the host and database remain readable.
	dsnKeywords := []string{"dsn", "source", "connection_string", "conn_str"}
	for _, keyword := range dsnKeywords {
		if strings.Contains(lowerKey, keyword) {
			return RedactDSN(value)
		}
	}

	sensitiveKeywords := []string{
		"password", "passwd", "pwd",
		"api_key", "apikey", "api-key",
		"token", "access_token", "refresh_token",
		"secret", "auth", "authorization",
		"credential", "private_key", "privatekey",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// RedactDSN masks the password in a MySQL-style DSN
// (user:password@tcp(host:port)/db). Values that do not look like a DSN
// are returned unchanged.
func RedactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	colon := strings.Index(dsn[:at], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:colon+1] + "****" + dsn[at:]
}

// sanitizeToken masks token/password values showing only the first and last
// few characters.
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
