package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_StampsOwningServer(t *testing.T) {
	reg := newRegistry("calc", 1, []Tool{textTool("sum"), textTool("divide")})

	assert.Equal(t, "calc", reg.Server())
	assert.EqualValues(t, 1, reg.Generation())
	assert.Equal(t, 2, reg.Len())

	sum, ok := reg.Get("sum")
	require.True(t, ok)
	assert.Equal(t, "calc", sum.Server)
	assert.Equal(t, "calc.sum", sum.Qualified())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ToolsReturnsCopy(t *testing.T) {
	reg := newRegistry("calc", 1, []Tool{textTool("sum")})

	tools := reg.Tools()
	tools[0].Name = "mutated"

	again, ok := reg.Get("sum")
	assert.True(t, ok)
	assert.Equal(t, "sum", again.Name)
}

func TestRegistry_DuplicateNamesLastWins(t *testing.T) {
	a := textTool("sum")
	a.Description = "first"
	b := textTool("sum")
	b.Description = "second"

	reg := newRegistry("calc", 1, []Tool{a, b})
	assert.Equal(t, 1, reg.Len())

	got, ok := reg.Get("sum")
	require.True(t, ok)
	assert.Equal(t, "second", got.Description)

	// Tools advertises the same descriptor Get resolves.
	all := reg.Tools()
	require.Len(t, all, 1)
	assert.Equal(t, got, all[0])
}

func TestRegistry_Empty(t *testing.T) {
	reg := emptyRegistry("calc", 3)
	assert.Equal(t, 0, reg.Len())
	assert.EqualValues(t, 3, reg.Generation())
	assert.Empty(t, reg.Tools())
}

func TestRegistry_IdempotentRebuild(t *testing.T) {
	tools := []Tool{textTool("a"), textTool("b"), textTool("c")}

	first := newRegistry("calc", 1, tools)
	second := newRegistry("calc", 1, tools)

	assert.Equal(t, first.Len(), second.Len())
	for _, tool := range first.Tools() {
		other, ok := second.Get(tool.Name)
		require.True(t, ok)
		assert.Equal(t, tool, other)
	}
}
