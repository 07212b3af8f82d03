package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor masks credentials that would otherwise leak into log lines
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the patterns for every credential Mission Control handles
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// GitHub tokens
			regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
			regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`),

			// Stripe keys and webhook secrets
			regexp.MustCompile(`(sk|rk|pk)_(live|test)_[A-Za-z0-9]{10,}`),
			regexp.MustCompile(`whsec_[A-Za-z0-9]{10,}`),

			// Bearer tokens (session tokens included)
			regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]+`),

			// Telegram bot tokens
			regexp.MustCompile(`\d{8,10}:[A-Za-z0-9_-]{30,}`),

			// Passwords and keys in key=value or JSON form
			regexp.MustCompile(`(?i)"?password"?["\s:=]+[^\s",}]+`),
			regexp.MustCompile(`(?i)"?(backup_key|secret)"?["\s:=]+[^\s",}]+`),

			// Query string tokens
			regexp.MustCompile(`token=[A-Za-z0-9._-]{16,}`),

			// AWS keys
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every match in s
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.next.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
