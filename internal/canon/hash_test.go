package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableIDIsStable(t *testing.T) {
	a, err := StableID(String("agent"), String("fleet/builder"))
	require.NoError(t, err)
	b, err := StableID(String("agent"), String("fleet/builder"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, IsHexHash(a))
}

func TestStableIDDistinguishesParts(t *testing.T) {
	a := MustStableID(String("ab"), String("c"))
	b := MustStableID(String("a"), String("bc"))
	// The tuple is canonicalized as an array, so part boundaries matter.
	assert.NotEqual(t, a, b)
}

func TestStableIDKeyOrderIrrelevant(t *testing.T) {
	a := MustStableID(Object{"x": Int(1), "y": Int(2)})
	b := MustStableID(Object{"y": Int(2), "x": Int(1)})
	assert.Equal(t, a, b)
}

func TestStableIDRejectsNilPart(t *testing.T) {
	obj, err := FromGo(map[string]any{"ok": int64(1)})
	require.NoError(t, err)
	_, err = StableID(obj, nil)
	require.Error(t, err)
}

func TestHashValueMatchesHashBytes(t *testing.T) {
	v := Object{"k": String("v")}
	canonical, err := Marshal(v)
	require.NoError(t, err)

	h, err := HashValue(v)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(canonical), h)
}

func TestIsHexHash(t *testing.T) {
	assert.True(t, IsHexHash(ZeroHash))
	assert.True(t, IsHexHash(HashBytes([]byte("x"))))
	assert.False(t, IsHexHash("short"))
	assert.False(t, IsHexHash(ZeroHash[:63]+"G"))
	assert.False(t, IsHexHash(ZeroHash[:63]+"A")) // upper case rejected
}
