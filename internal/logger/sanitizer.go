package logger

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

const redacted = "***"

// Sanitizer removes credentials from log messages and attribute values.
// Values of sensitive keys are replaced entirely; other string values have
// embedded credentials (presigned URL signatures, bearer tokens) masked.
type Sanitizer struct {
	mu    sync.RWMutex
	rules []SanitizeRule
}

// SanitizeRule replaces every match of Pattern with Replacement
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewSanitizer returns a sanitizer with the default rules
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: defaultRules()}
}

func defaultRules() []SanitizeRule {
	return []SanitizeRule{
		// query parameters of presigned and OAuth URLs, and key=value pairs in messages
		{regexp.MustCompile(`(?i)\b(x-amz-security-token|x-amz-signature|x-amz-credential|signature|client_secret|access_token|refresh_token|password|passwd|token)=[^&\s"]+`), "$1=" + redacted},
		{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]+`), "$1 " + redacted},
		// AWS access key IDs
		{regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), "$1" + redacted},
		// credentials embedded in smb:// and http:// URLs
		{regexp.MustCompile(`(://[^:/@\s]+):[^@/\s]+@`), "$1:" + redacted + "@"},
	}
}

var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "authorization",
	"api_key", "apikey", "credential", "access_key", "session_key",
}

// Sanitize applies every rule to s
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		input = rule.Pattern.ReplaceAllString(input, rule.Replacement)
	}
	return input
}

// SanitizeArgs returns a copy of key/value args with credentials removed
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	result := make([]any, len(args))
	copy(result, args)

	for i := 0; i < len(result); i++ {
		if attr, ok := result[i].(slog.Attr); ok {
			result[i] = s.sanitizeAttr(attr)
			continue
		}
		key, ok := result[i].(string)
		if !ok || i+1 >= len(result) {
			continue
		}
		i++
		result[i] = s.sanitizeValue(key, result[i])
	}
	return result
}

func (s *Sanitizer) sanitizeAttr(attr slog.Attr) slog.Attr {
	if IsSensitiveKey(attr.Key) {
		return slog.String(attr.Key, redacted)
	}
	if attr.Value.Kind() == slog.KindString {
		return slog.String(attr.Key, s.Sanitize(attr.Value.String()))
	}
	return attr
}

func (s *Sanitizer) sanitizeValue(key string, value any) any {
	if value == nil {
		return nil
	}
	if IsSensitiveKey(key) {
		return redacted
	}
	switch v := value.(type) {
	case string:
		return s.Sanitize(v)
	case error:
		return s.Sanitize(v.Error())
	case fmt.Stringer:
		return s.Sanitize(v.String())
	default:
		return value
	}
}

// IsSensitiveKey reports whether values logged under key are always redacted
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// AddRule appends a custom rule
func (s *Sanitizer) AddRule(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, SanitizeRule{Pattern: re, Replacement: replacement})
	return nil
}
