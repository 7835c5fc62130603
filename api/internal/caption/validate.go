package caption

import (
	"mime"
	"strings"
)

// MaxImageBytes: потолок размера кандидата (10 MiB).
const MaxImageBytes = 10 * 1024 * 1024

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// Validate classifies a candidate. Rules run in order: declared type, then size.
// Only the declared media type is inspected; the payload is never sniffed.
func Validate(c ImageCandidate) error {
	if !allowedTypes[normalizeType(c.MediaType)] {
		return &ValidationError{Reason: ReasonUnsupportedType}
	}
	if c.ByteSize() > MaxImageBytes {
		return &ValidationError{Reason: ReasonTooLarge}
	}
	return nil
}

// ValidateRating checks the 1..5 range.
func ValidateRating(v int) error {
	if v < MinRating || v > MaxRating {
		return &ValidationError{Reason: ReasonInvalidRating}
	}
	return nil
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(t)
}
