package ai

import (
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
)

// ErrorKind classifies provider failures by how the caller should
// react: rotate the credential, retry with backoff, or give up.
type ErrorKind int

const (
	// KindPermanent errors fail the request. Retrying or rotating
	// credentials would not help.
	KindPermanent ErrorKind = iota
	// KindQuota means the current credential is out of quota; the pool
	// should rotate and the request retried on the next key.
	KindQuota
	// KindTransient covers provider 5xx responses; retry with backoff
	// on the same credential first.
	KindTransient
	// KindSafety means the prompt or response was blocked by the
	// provider's safety filters. Terminal and never rotates, every
	// credential would block the same content.
	KindSafety
)

var (
	// ErrAllCredentialsExhausted is returned once every credential in
	// the pool has hit its quota.
	ErrAllCredentialsExhausted = errors.New("all API credentials exhausted")

	// ErrContentBlocked is returned for safety-filtered requests so
	// callers can surface a distinct message instead of a retry hint.
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

// Classify maps a provider error to its handling category.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return KindSafety
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return KindQuota
		case apiErr.Code >= 500 && apiErr.Code < 600:
			return KindTransient
		}
		if strings.Contains(apiErr.Body, "RESOURCE_EXHAUSTED") {
			return KindQuota
		}
		return KindPermanent
	}

	// The SDK sometimes wraps transport errors without a typed cause.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "quota"):
		return KindQuota
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "internal error"):
		return KindTransient
	}
	return KindPermanent
}
