package redisx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsKey(t *testing.T) {
	assert.Equal(t, "stats:seller:f-1", StatsKey("seller", "f-1"))
	assert.Equal(t, "stats:platform:all", StatsKey("platform", ""))
	assert.Equal(t, "statsgen:stats:buyer:b-1", StatsGenKey(StatsKey("buyer", "b-1")))
	assert.Equal(t, "stats:buyer:b-1@3", StatsVersionKey(StatsKey("buyer", "b-1"), "3"))
}
