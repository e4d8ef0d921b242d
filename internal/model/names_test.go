package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"math", "Math"},
		{"  hISTORY ", "History"},
		{"Computer SCIENCE", "Computer science"},
		{"économie", "Économie"},
		{"", ""},
		{"   ", ""},
		{"x", "X"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSubjectName(tt.in))
		})
	}
}

func TestFoldName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FoldName("Math"), FoldName("mATH"))
	assert.Equal(t, FoldName(" Math "), FoldName("math"))

	// Composed and decomposed forms of "é" fold to the same key.
	assert.Equal(t, FoldName("\u00e9conomie"), FoldName("e\u0301conomie"))
	assert.NotEqual(t, FoldName("Math"), FoldName("Maths"))
}
