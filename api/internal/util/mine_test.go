package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeclaredMIME(t *testing.T) {
	cases := []struct{ explicit, name, want string }{
		{"image/png", "photo.jpg", "image/png"},
		{" image/jpeg ", "", "image/jpeg"},
		{"", "photo.JPG", "image/jpeg"},
		{"", "scan.jpeg", "image/jpeg"},
		{"", "diagram.png", "image/png"},
		{"", "anim.gif", "image/gif"},
		{"", "report.pdf", "application/pdf"},
		{"", "noext", "application/octet-stream"},
		{"", "", "application/octet-stream"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeclaredMIME(tc.explicit, tc.name), "%q %q", tc.explicit, tc.name)
	}
}

func TestExtForMIME(t *testing.T) {
	assert.Equal(t, ".png", ExtForMIME("image/png"))
	assert.Equal(t, ".jpg", ExtForMIME("IMAGE/JPEG"))
	assert.Equal(t, ".jpg", ExtForMIME("image/jpg"))
	assert.Equal(t, "", ExtForMIME("image/gif"))
}
