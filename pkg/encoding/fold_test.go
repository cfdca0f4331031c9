package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldASCII(t *testing.T) {
	tests := map[string]string{
		"Café Ñandú":  "Cafe Nandu",
		"  Über  ":    "Uber",
		"plain":       "plain",
		"":            "",
		"São Paulo 2": "Sao Paulo 2",
	}
	for in, want := range tests {
		assert.Equal(t, want, FoldASCII(in), in)
	}
}
