package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestComputeKey(t *testing.T) {
	org := snowflake.ID(100)
	run := snowflake.ID(200)
	zero := int64(0)
	compare := int64(2500)

	base := ComputeKey(org, "ext-1", run, 1100, nil)
	assert.Len(t, base, 64, "hex sha256 digest")
	assert.Equal(t, base, ComputeKey(org, "ext-1", run, 1100, nil), "deterministic")

	assert.NotEqual(t, base, ComputeKey(org, "ext-1", snowflake.ID(201), 1100, nil), "a later run reprices the same variant")
	assert.NotEqual(t, base, ComputeKey(org, "ext-2", run, 1100, nil))
	assert.NotEqual(t, base, ComputeKey(org, "ext-1", run, 1200, nil))
	assert.NotEqual(t, base, ComputeKey(org, "ext-1", run, 1100, &compare))
	assert.NotEqual(t,
		ComputeKey(org, "ext-1", run, 1100, nil),
		ComputeKey(org, "ext-1", run, 1100, &zero),
		"nil compare-at is distinct from zero",
	)
}
