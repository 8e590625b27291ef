// pkg/storage/sqlstore/codec.go
package sqlstore

import "fmt"

// Codec converts a tree payload V to and from a database/sql driver
// value. The relational adapter never interprets V itself; encoding is
// delegated entirely to the caller-provided codec, grounded in the
// teacher's scalar value union (pkg/types/value.go) but reduced to the
// minimal encode/decode pair the adapter actually needs.
type Codec[V any] interface {
	// Encode returns a value acceptable to database/sql (a type
	// implementing driver.Valuer, or one of the base kinds: int64,
	// float64, bool, []byte, string, time.Time, nil).
	Encode(v V) (any, error)

	// Decode converts a value read back from a scanned column into V.
	Decode(raw any) (V, error)
}

// BytesCodec is the identity codec for []byte payloads: the default
// when the caller stores pre-serialized blobs.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) (any, error) { return v, nil }

func (BytesCodec) Decode(raw any) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	b, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("sqlstore: expected []byte column, got %T", raw)
	}
	return b, nil
}

// StringCodec is the well-known scalar mapping for string payloads.
type StringCodec struct{}

func (StringCodec) Encode(v string) (any, error) { return v, nil }

func (StringCodec) Decode(raw any) (string, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("sqlstore: expected string column, got %T", raw)
	}
}

// Int64Codec is the well-known scalar mapping for int64 payloads.
type Int64Codec struct{}

func (Int64Codec) Encode(v int64) (any, error) { return v, nil }

func (Int64Codec) Decode(raw any) (int64, error) {
	switch t := raw.(type) {
	case int64:
		return t, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("sqlstore: expected int64 column, got %T", raw)
	}
}

// Float64Codec is the well-known scalar mapping for float64 payloads.
type Float64Codec struct{}

func (Float64Codec) Encode(v float64) (any, error) { return v, nil }

func (Float64Codec) Decode(raw any) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("sqlstore: expected float64 column, got %T", raw)
	}
}
