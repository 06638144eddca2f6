package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymousTextForm(t *testing.T) {
	assert.Equal(t, Principal("2vxsx-fae"), Anonymous)
	assert.True(t, Anonymous.IsAnonymous())
}

func TestFromPublicKey_Deterministic(t *testing.T) {
	a := FromPublicKey([]byte("public-key-a"))
	b := FromPublicKey([]byte("public-key-a"))
	c := FromPublicKey([]byte("public-key-b"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsAnonymous())

	raw, err := a.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, 29)
	assert.Equal(t, byte(tagSelfAuthenticating), raw[len(raw)-1])
}

func TestTextFormGrouping(t *testing.T) {
	p := FromPublicKey([]byte("grouping"))
	groups := strings.Split(string(p), "-")
	for i, g := range groups {
		if i < len(groups)-1 {
			assert.Len(t, g, groupSize)
		} else {
			assert.LessOrEqual(t, len(g), groupSize)
		}
		assert.Equal(t, strings.ToLower(g), g)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, p := range []Principal{
		Anonymous,
		FromPublicKey([]byte("round-trip")),
		Opaque([]byte("service")),
	} {
		parsed, err := Parse(strings.ToUpper(string(p)))
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}

func TestParse_Rejects(t *testing.T) {
	valid := string(FromPublicKey([]byte("checksum")))

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"not base32", "!!!!!-!!"},
		{"too short", "aa"},
		{"checksum mismatch", flipFirstChar(valid)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.ErrorIs(t, err, ErrInvalidPrincipal)
		})
	}
}

func TestOpaque_Truncates(t *testing.T) {
	p := Opaque([]byte(strings.Repeat("x", 64)))
	raw, err := p.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, MaxRawLength)
}

func flipFirstChar(s string) string {
	if s[0] == 'a' {
		return "b" + s[1:]
	}
	return "a" + s[1:]
}
