package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(a))
}

func TestCanonicalJSONMapOrderInsensitive(t *testing.T) {
	// Maps with the same content must canonicalise identically regardless
	// of insertion order.
	m1 := map[string]any{"x": "1", "y": map[string]any{"b": 2, "a": 1}}
	m2 := map[string]any{"y": map[string]any{"a": 1, "b": 2}, "x": "1"}

	c1, err := CanonicalJSON(m1)
	require.NoError(t, err)
	c2, err := CanonicalJSON(m2)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}

func TestCanonicalJSONStructAndMapAgree(t *testing.T) {
	type snapshot struct {
		SectionID int    `json:"section_id"`
		Path      string `json:"path"`
	}
	fromStruct, err := CanonicalJSON(snapshot{SectionID: 7, Path: "body/block/7"})
	require.NoError(t, err)
	fromMap, err := CanonicalJSON(map[string]any{"path": "body/block/7", "section_id": 7})
	require.NoError(t, err)
	assert.Equal(t, fromStruct, fromMap)
}

func TestCanonicalJSONEscapesNonASCII(t *testing.T) {
	c, err := CanonicalJSON(map[string]any{"name": "Açme™"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A\u00e7me\u2122"}`, string(c))
}

func TestCanonicalJSONEscapesSurrogatePairs(t *testing.T) {
	c, err := CanonicalJSON("𝄞")
	require.NoError(t, err)
	assert.Equal(t, `"\ud834\udd1e"`, string(c))
}

func TestCanonicalJSONNoTrailingNewline(t *testing.T) {
	c, err := CanonicalJSON([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(c))
}

func TestTextHashDeterministic(t *testing.T) {
	h1 := TextHash("hello world")
	h2 := TextHash("hello world")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, TextHash("hello worlds"))
}

func TestHashValueDeterministic(t *testing.T) {
	v := map[string]any{"client": "Acme", "fields": []string{"a", "b"}}
	h1, err := HashValue(v)
	require.NoError(t, err)
	h2, err := HashValue(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestBatchHashOrderIndependent(t *testing.T) {
	members := []string{TextHash("one"), TextHash("two"), TextHash("three")}
	reversed := []string{members[2], members[1], members[0]}

	h1, err := BatchHash(members)
	require.NoError(t, err)
	h2, err := BatchHash(reversed)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestBatchHashDoesNotMutateInput(t *testing.T) {
	members := []string{"c", "a", "b"}
	_, err := BatchHash(members)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, members)
}

func TestBatchHashSensitiveToMembers(t *testing.T) {
	h1, err := BatchHash([]string{"a", "b"})
	require.NoError(t, err)
	h2, err := BatchHash([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
