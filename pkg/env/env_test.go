package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFallsBackOnBlank(t *testing.T) {
	t.Setenv("CARLINE_TEST_VALUE", "   ")
	assert.Equal(t, "json", Get("CARLINE_TEST_VALUE", "json"))

	t.Setenv("CARLINE_TEST_VALUE", " console ")
	assert.Equal(t, "console", Get("CARLINE_TEST_VALUE", "json"))
}

func TestFirstHonoursOrder(t *testing.T) {
	t.Setenv("CARLINE_TEST_A", "")
	t.Setenv("CARLINE_TEST_B", "b")
	t.Setenv("CARLINE_TEST_C", "c")

	v, ok := First("CARLINE_TEST_A", "CARLINE_TEST_B", "CARLINE_TEST_C")
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = First("CARLINE_TEST_A")
	assert.False(t, ok)
}
