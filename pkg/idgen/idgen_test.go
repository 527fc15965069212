package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	gen := New()
	assert.NotNil(t, gen)
	assert.NotNil(t, gen.sf)
}

func TestGenerateDispVMName(t *testing.T) {
	t.Parallel()

	gen := New()

	name, err := gen.GenerateDispVMName()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "disp"))
}

func TestGenerateDispVMName_Unique(t *testing.T) {
	t.Parallel()

	gen := New()

	names := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name, err := gen.GenerateDispVMName()
		require.NoError(t, err)
		assert.False(t, names[name], "name should be unique: %s", name)
		names[name] = true
	}
}

func TestGenerateID_Incremental(t *testing.T) {
	t.Parallel()

	gen := New()

	// 生成多个 ID，验证它们是递增的
	var prevID uint64
	for i := 0; i < 100; i++ {
		id, err := gen.GenerateID()
		require.NoError(t, err)

		if i > 0 {
			assert.Greater(t, id, prevID, "ID should be incremental: %d > %d", id, prevID)
		}
		prevID = id
	}
}

func TestGenerateID_Unique(t *testing.T) {
	t.Parallel()

	gen := New()

	// 生成大量 ID，确保它们是唯一的
	ids := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		id, err := gen.GenerateID()
		require.NoError(t, err)
		assert.False(t, ids[id], "ID should be unique: %d", id)
		ids[id] = true
	}
}

func TestDefaultGenerator(t *testing.T) {
	t.Parallel()

	gen1 := DefaultGenerator()
	gen2 := DefaultGenerator()

	// 确保返回的是同一个实例
	assert.Equal(t, gen1, gen2)
	assert.NotNil(t, gen1)
	assert.NotNil(t, gen1.sf)
}

func TestPackageLevelGenerateDispVMName(t *testing.T) {
	t.Parallel()

	name, err := GenerateDispVMName()
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	assert.True(t, strings.HasPrefix(name, "disp"))
}

func TestPackageLevelGenerateID(t *testing.T) {
	t.Parallel()

	// 生成多个 ID，验证它们是递增的
	var prevID uint64
	for i := 0; i < 100; i++ {
		id, err := GenerateID()
		require.NoError(t, err)

		if i > 0 {
			assert.Greater(t, id, prevID, "ID should be incremental: %d > %d", id, prevID)
		}
		prevID = id
	}
}
