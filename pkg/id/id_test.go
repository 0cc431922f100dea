package id

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndMonotonic(t *testing.T) {
	prev := ""
	for i := 0; i < 100; i++ {
		v := New("wd")
		require.True(t, strings.HasPrefix(v, "wd_"))
		_, err := ulid.Parse(strings.TrimPrefix(v, "wd_"))
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
}
