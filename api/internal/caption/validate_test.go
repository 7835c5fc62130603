package caption

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		cand   ImageCandidate
		reason string // "" = accepted
	}{
		{"jpeg 2MB", ImageCandidate{MediaType: "image/jpeg", Size: 2 << 20}, ""},
		{"jpg alias", ImageCandidate{MediaType: "image/jpg", Size: 1024}, ""},
		{"png upper case", ImageCandidate{MediaType: "IMAGE/PNG", Size: 1024}, ""},
		{"params stripped", ImageCandidate{MediaType: "image/png; q=1", Size: 1024}, ""},
		{"exactly the limit", ImageCandidate{MediaType: "image/png", Size: MaxImageBytes}, ""},
		{"one byte over", ImageCandidate{MediaType: "image/png", Size: MaxImageBytes + 1}, ReasonTooLarge},
		{"png 15MB", ImageCandidate{MediaType: "image/png", Size: 15 << 20}, ReasonTooLarge},
		{"gif", ImageCandidate{MediaType: "image/gif", Size: 1024}, ReasonUnsupportedType},
		{"webp", ImageCandidate{MediaType: "image/webp", Size: 1024}, ReasonUnsupportedType},
		{"no type", ImageCandidate{Size: 1024}, ReasonUnsupportedType},
		{"type checked before size", ImageCandidate{MediaType: "application/pdf", Size: 50 << 20}, ReasonUnsupportedType},
		{"size from payload", ImageCandidate{MediaType: "image/jpeg", Data: make([]byte, MaxImageBytes+1)}, ReasonTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.cand)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want *ValidationError, got %v", err)
			assert.Equal(t, tc.reason, ve.Reason)
		})
	}
}

func TestValidateIgnoresPayloadContent(t *testing.T) {
	// PNG magic bytes under a declared GIF type are still rejected
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	err := Validate(ImageCandidate{MediaType: "image/gif", Data: png})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonUnsupportedType, ve.Reason)

	assert.NoError(t, Validate(ImageCandidate{MediaType: "image/jpeg", Data: []byte("not really a jpeg")}))
}

func TestValidateRating(t *testing.T) {
	for v := MinRating; v <= MaxRating; v++ {
		assert.NoError(t, ValidateRating(v))
	}
	for _, v := range []int{-1, 0, 6, 10} {
		var ve *ValidationError
		require.ErrorAs(t, ValidateRating(v), &ve)
		assert.Equal(t, ReasonInvalidRating, ve.Reason)
	}
}

func TestValidationNotice(t *testing.T) {
	assert.Equal(t, "Please upload a JPEG or PNG image", (&ValidationError{Reason: ReasonUnsupportedType}).Notice())
	assert.Equal(t, "Image size should be less than 10MB", (&ValidationError{Reason: ReasonTooLarge}).Notice())
	assert.Contains(t, (&ValidationError{Reason: ReasonInvalidRating}).Notice(), "between 1 and 5")
}
