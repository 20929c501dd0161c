package logger

import (
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`)
	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)
)

// secretKeys are dropped entirely; identifierKeys keep their last four
// characters so log lines can still be correlated.
var (
	secretKeys = map[string]bool{
		"password":      true,
		"token":         true,
		"secret":        true,
		"api_key":       true,
		"apikey":        true,
		"authorization": true,
		"access_key":    true,
		"secret_key":    true,
	}
	identifierKeys = map[string]bool{
		"user_id":  true,
		"owner_id": true,
		"email":    true,
	}
)

// Redact masks e-mail addresses, bearer tokens, JWTs and API keys inside s.
func Redact(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer "+redacted)
	s = jwtPattern.ReplaceAllString(s, redacted)
	s = apiKeyPattern.ReplaceAllString(s, redacted)
	return emailPattern.ReplaceAllStringFunc(s, func(m string) string {
		return "***@" + m[strings.LastIndex(m, "@")+1:]
	})
}

// MaskIdentifier keeps the last four characters of id.
func MaskIdentifier(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	switch {
	case secretKeys[key]:
		return slog.String(a.Key, redacted)
	case identifierKeys[key]:
		return slog.String(a.Key, MaskIdentifier(a.Value.String()))
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, Redact(a.Value.String()))
	}
	if a.Value.Kind() == slog.KindAny {
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, Redact(err.Error()))
		}
	}
	return a
}
