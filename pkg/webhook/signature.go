package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultStripeTolerance bounds how old a Stripe signature timestamp may be
const DefaultStripeTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// VerifyGitHub checks an X-Hub-Signature-256 header ("sha256=<hex>")
func VerifyGitHub(body []byte, header, secret string) error {
	if header == "" {
		return ErrMissingSignature
	}
	expected := "sha256=" + computeHMACSHA256(body, secret)
	if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyStripe checks a Stripe-Signature header ("t=<unix>,v1=<hex>[,v1=...]").
// The signed payload is "<t>.<body>"; any v1 entry may match.
func VerifyStripe(body []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return ErrMissingSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed Stripe-Signature header", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}

	signed := make([]byte, 0, len(timestamp)+1+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	expected := []byte(computeHMACSHA256(signed, secret))

	for _, sig := range signatures {
		if subtle.ConstantTimeCompare([]byte(sig), expected) == 1 {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignStripe builds a Stripe-Signature header for body at t
func SignStripe(body []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	signed := append([]byte(ts+"."), body...)
	return fmt.Sprintf("t=%s,v1=%s", ts, computeHMACSHA256(signed, secret))
}

// SignGitHub builds an X-Hub-Signature-256 header for body
func SignGitHub(body []byte, secret string) string {
	return "sha256=" + computeHMACSHA256(body, secret)
}

func computeHMACSHA256(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
