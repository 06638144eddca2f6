// Package identity defines the owner identity used to partition all data in
// DittoVault.
//
// A Principal is an opaque, self-checking token. Its raw form is a short byte
// string; its text form is the lowercase, unpadded base32 encoding of
// crc32(raw) || raw, split into dash-separated groups of five characters:
//
//	2vxsx-fae                         anonymous
//	rrkah-fqaaa-aaaaa-aaaaq-cai       opaque id
//
// Principals derived from a public key ("self-authenticating") are the
// SHA3-224 digest of the key followed by a 0x02 tag byte.
package identity

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// MaxRawLength is the longest raw principal accepted.
	MaxRawLength = 29

	tagSelfAuthenticating = 0x02
	tagAnonymous          = 0x04
	tagOpaque             = 0x01

	groupSize = 5
)

var (
	// ErrInvalidPrincipal is returned when a text principal cannot be parsed.
	ErrInvalidPrincipal = errors.New("invalid principal")

	encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

	// Anonymous is the reserved principal carried by unauthenticated callers.
	Anonymous = FromBytes([]byte{tagAnonymous})
)

// Principal is the text form of an owner identity. The zero value is invalid.
type Principal string

// FromBytes encodes a raw principal into its text form.
func FromBytes(raw []byte) Principal {
	buf := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	copy(buf[4:], raw)

	encoded := strings.ToLower(encoding.EncodeToString(buf))

	var b strings.Builder
	for i := 0; i < len(encoded); i += groupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+groupSize, len(encoded))
		b.WriteString(encoded[i:end])
	}
	return Principal(b.String())
}

// FromPublicKey derives the self-authenticating principal of a public key.
func FromPublicKey(publicKey []byte) Principal {
	digest := sha3.Sum224(publicKey)
	raw := make([]byte, 0, len(digest)+1)
	raw = append(raw, digest[:]...)
	raw = append(raw, tagSelfAuthenticating)
	return FromBytes(raw)
}

// Opaque builds a principal for a system-generated identifier such as a
// service or shard. The resulting principal carries the opaque tag byte.
func Opaque(id []byte) Principal {
	if len(id) > MaxRawLength-1 {
		id = id[:MaxRawLength-1]
	}
	raw := make([]byte, 0, len(id)+1)
	raw = append(raw, id...)
	raw = append(raw, tagOpaque)
	return FromBytes(raw)
}

// Parse validates a text principal, including its checksum, and returns it in
// canonical lowercase form.
func Parse(text string) (Principal, error) {
	raw, err := Principal(strings.ToLower(text)).Bytes()
	if err != nil {
		return "", err
	}
	return FromBytes(raw), nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) Principal {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes decodes the principal back to its raw form.
func (p Principal) Bytes() ([]byte, error) {
	compact := strings.ReplaceAll(string(p), "-", "")
	if compact == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrincipal)
	}

	decoded, err := encoding.DecodeString(strings.ToUpper(compact))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}
	if len(decoded) < 4 || len(decoded)-4 > MaxRawLength {
		return nil, fmt.Errorf("%w: bad length %d", ErrInvalidPrincipal, len(decoded))
	}

	raw := decoded[4:]
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(raw) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidPrincipal)
	}
	return raw, nil
}

// IsAnonymous reports whether p is the reserved anonymous principal.
func (p Principal) IsAnonymous() bool {
	return p == Anonymous
}

// IsZero reports whether p is unset.
func (p Principal) IsZero() bool {
	return p == ""
}

func (p Principal) String() string {
	return string(p)
}
