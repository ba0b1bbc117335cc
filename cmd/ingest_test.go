package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"guide.md", "markdown"},
		{"GUIDE.MD", "markdown"},
		{"notes.markdown", "markdown"},
		{"page.html", "html"},
		{"page.htm", "html"},
		{"readme.txt", "text"},
		{"binaryish.pdf", "text"},
		{"noextension", "text"},
		{"/some/dir/file.Md", "markdown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, documentTypeFor(tt.path), tt.path)
	}
}
