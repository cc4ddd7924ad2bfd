package kv

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/forager/pkg/types"
)

// Pair is one (key, value) result from RangeGet. Value holds the raw
// serialized bytes; callers decode with the store's serializer via
// DecodeInto.
type Pair struct {
	Key   string
	Value []byte
}

// Store defines the interface for namespaced key-value state storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores value under key. ttl <= 0 means no expiry.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get decodes the value at key into out. Returns false when the key
	// does not exist or has expired.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// RangeGet returns pairs with start <= key < end in ascending key
	// order. An empty end means no upper bound. limit <= 0 means no
	// limit.
	RangeGet(ctx context.Context, start, end string, limit int) ([]Pair, error)

	// DecodeInto decodes raw bytes produced by this store's serializer.
	DecodeInto(data []byte, out any) error

	// Close releases backend resources.
	Close() error
}

// Serializer encodes values for storage. Two implementations are
// provided: JSON (preferred, human-inspectable) and gob (binary).
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, out any) error
}

// JSONSerializer encodes values as JSON.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSerializer, err)
	}
	return data, nil
}

func (JSONSerializer) Unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializer, err)
	}
	return nil
}

// GobSerializer encodes values with encoding/gob.
type GobSerializer struct{}

func (GobSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSerializer, err)
	}
	return buf.Bytes(), nil
}

func (GobSerializer) Unmarshal(data []byte, out any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializer, err)
	}
	return nil
}

// SerializerByName returns the serializer for a config name.
func SerializerByName(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSONSerializer{}, nil
	case "gob", "binary":
		return GobSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s", name)
	}
}

// Options configure a store regardless of backend.
type Options struct {
	// Prefix is prepended (with a ":" separator) to every key.
	Prefix string

	// Serializer defaults to JSON when nil.
	Serializer Serializer

	// DefaultTTL applies when Put is called with ttl == 0 and the
	// caller wants the store default. Zero means no default expiry.
	DefaultTTL time.Duration
}

func (o *Options) serializer() Serializer {
	if o.Serializer == nil {
		return JSONSerializer{}
	}
	return o.Serializer
}

func (o *Options) fullKey(key string) string {
	if o.Prefix == "" {
		return key
	}
	return o.Prefix + ":" + key
}

func (o *Options) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return o.DefaultTTL
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}
