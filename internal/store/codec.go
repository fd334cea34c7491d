package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/me/prodgraph/pkg/model"
)

// ErrUnregistered is returned for values whose type the codec does not know.
// Such values are computed normally but never persisted.
var ErrUnregistered = errors.New("type not registered with codec")

// Codec serializes product values for a Store. Only registered types can be
// encoded, so a value read back always decodes to the Go type it was saved as.
type Codec struct {
	mu    sync.RWMutex
	types map[model.Type]reflect.Type
}

// NewCodec creates an empty Codec.
func NewCodec() *Codec {
	return &Codec{types: make(map[model.Type]reflect.Type)}
}

// Register makes values of type T persistable under model.TypeOf(T{}).
func Register[T any](c *Codec) {
	var zero T
	name := model.TypeOf(zero)
	if name == "" {
		name = model.TypeFor[T]()
	}
	c.mu.Lock()
	c.types[name] = reflect.TypeFor[T]()
	c.mu.Unlock()
}

// Registered reports whether values of type name can be encoded.
func (c *Codec) Registered(name model.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[name]
	return ok
}

// Encode returns the type name and JSON encoding of v.
func (c *Codec) Encode(v any) (model.Type, []byte, error) {
	name := model.TypeOf(v)
	c.mu.RLock()
	rt, ok := c.types[name]
	c.mu.RUnlock()
	if !ok || rt != reflect.TypeOf(v) {
		return "", nil, fmt.Errorf("encode %s: %w", name, ErrUnregistered)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return name, data, nil
}

// Decode rebuilds a value of the registered type name from data.
func (c *Codec) Decode(name model.Type, data []byte) (any, error) {
	c.mu.RLock()
	rt, ok := c.types[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode %s: %w", name, ErrUnregistered)
	}
	ptr := reflect.New(rt)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ptr.Elem().Interface(), nil
}
