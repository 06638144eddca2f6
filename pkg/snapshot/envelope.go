// Package snapshot encodes component state into versioned snapshot blobs and
// stores them.
//
// A blob is an XDR envelope: magic, format version, component kind, payload
// codec, creation time, and the payload itself. The payload is the
// component's JSON image, zstd-compressed.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Magic marks a DittoVault snapshot ("DVS1").
const Magic uint32 = 0x44565331

// FormatVersion is the envelope version written by Encode.
const FormatVersion uint32 = 1

// Kind names the component a snapshot belongs to.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindAssets    Kind = "assets"
	KindShards    Kind = "shards"
)

// Kinds lists every component kind in restore order.
var Kinds = []Kind{KindShards, KindDirectory, KindAssets}

// Codec is the payload encoding.
type Codec uint32

const (
	CodecJSON     Codec = 1
	CodecJSONZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecJSON:
		return "json"
	case CodecJSONZstd:
		return "json+zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint32(c))
	}
}

// Header is the decoded envelope without its payload.
type Header struct {
	Magic       uint32
	Version     uint32
	Kind        Kind
	Codec       Codec
	CreatedAt   time.Time
	PayloadSize int
}

type envelope struct {
	Magic     uint32
	Version   uint32
	Kind      string
	Codec     uint32
	CreatedAt uint64
	Payload   []byte
}

var (
	encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
)

func compress(data []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)

	return enc.EncodeAll(data, nil)
}

func decompress(data []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	return dec.DecodeAll(data, nil)
}

// Encode serializes image as a snapshot blob of the given kind.
func Encode(kind Kind, image any, createdAt time.Time) ([]byte, error) {
	payload, err := json.Marshal(image)
	if err != nil {
		return nil, fmt.Errorf("encode %s image: %w", kind, err)
	}

	env := envelope{
		Magic:     Magic,
		Version:   FormatVersion,
		Kind:      string(kind),
		Codec:     uint32(CodecJSONZstd),
		CreatedAt: uint64(createdAt.UnixNano()),
		Payload:   compress(payload),
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &env); err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return buf.Bytes(), nil
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Magic != Magic {
		return nil, fmt.Errorf("not a snapshot: magic %#08x", env.Magic)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	return &env, nil
}

func (e *envelope) header() Header {
	return Header{
		Magic:       e.Magic,
		Version:     e.Version,
		Kind:        Kind(e.Kind),
		Codec:       Codec(e.Codec),
		CreatedAt:   time.Unix(0, int64(e.CreatedAt)).UTC(),
		PayloadSize: len(e.Payload),
	}
}

func (e *envelope) plainPayload() ([]byte, error) {
	switch Codec(e.Codec) {
	case CodecJSON:
		return e.Payload, nil
	case CodecJSONZstd:
		out, err := decompress(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("decompress %s payload: %w", e.Kind, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload codec %s", Codec(e.Codec))
	}
}

// Inspect decodes the envelope header and returns the plain JSON payload.
func Inspect(data []byte) (Header, []byte, error) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return Header{}, nil, err
	}
	payload, err := env.plainPayload()
	if err != nil {
		return Header{}, nil, err
	}
	return env.header(), payload, nil
}

// Decode checks that data is a snapshot of the given kind and decodes its
// payload into image.
func Decode(data []byte, kind Kind, image any) (Header, error) {
	env, err := unmarshalEnvelope(data)
	if err != nil {
		return Header{}, err
	}
	if Kind(env.Kind) != kind {
		return Header{}, fmt.Errorf("snapshot holds %q, expected %q", env.Kind, kind)
	}

	payload, err := env.plainPayload()
	if err != nil {
		return Header{}, err
	}
	if err := json.Unmarshal(payload, image); err != nil {
		return Header{}, fmt.Errorf("decode %s image: %w", kind, err)
	}
	return env.header(), nil
}
