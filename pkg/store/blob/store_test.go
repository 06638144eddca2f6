package blob

import (
	"sort"
	"testing"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_RoundTrip(t *testing.T) {
	owner := identity.FromPublicKey([]byte("owner"))
	key := Key{ChunkID: 42, Owner: owner}

	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestKey_LexicalOrderMatchesNumeric(t *testing.T) {
	owner := identity.FromPublicKey([]byte("owner"))
	keys := []string{
		Key{ChunkID: 10, Owner: owner}.String(),
		Key{ChunkID: 9, Owner: owner}.String(),
		Key{ChunkID: 100, Owner: owner}.String(),
	}
	sort.Strings(keys)

	want := []string{
		Key{ChunkID: 9, Owner: owner}.String(),
		Key{ChunkID: 10, Owner: owner}.String(),
		Key{ChunkID: 100, Owner: owner}.String(),
	}
	assert.Equal(t, want, keys)
}

func TestParseKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "no-slash", "/12", "owner/abc"} {
		_, err := ParseKey(s)
		assert.ErrorIs(t, err, ErrInvalidKey, s)
	}
}

func TestMetricsOrNoop(t *testing.T) {
	m := MetricsOrNoop(nil)
	require.NotNil(t, m)
	m.ObserveOperation("memory", "put", 0, nil)
	m.RecordBytes("memory", "put", 10)
}
