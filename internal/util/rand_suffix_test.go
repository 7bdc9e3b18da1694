package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hogwatch/hogwatch/internal/util"
)

func TestRandSuffix(t *testing.T) {
	a := util.RandSuffix(8)
	b := util.RandSuffix(8)

	assert.Len(t, a, 8)
	assert.Len(t, b, 8)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, "^[a-z0-9]+$", a)
}
