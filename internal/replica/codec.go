/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package replica

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrNotObject   = errors.New("message is not a JSON object")
)

// Message is one variant of the wire sum type. It is encoded as a flat JSON
// object whose "type" field is MessageType().
type Message interface {
	MessageType() string
}

// Encode marshals m and prepends its type discriminant.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}

	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), ErrNotObject)
	}

	typ, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(bytes.TrimSpace(body[1:])) > 1 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])

	return buf.Bytes(), nil
}

// TypeOf returns the discriminant of an encoded message.
func TypeOf(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	if head.Type == "" {
		return "", ErrUnknownType
	}
	return head.Type, nil
}

// Codec decodes messages into registered variants.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]func() Message
}

func NewCodec() *Codec {
	return &Codec{factories: make(map[string]func() Message)}
}

// Register adds variants. Each factory must return a fresh pointer.
func (c *Codec) Register(factories ...func() Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range factories {
		c.factories[f().MessageType()] = f
	}
}

func (c *Codec) Decode(data []byte) (Message, error) {
	typ, err := TypeOf(data)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	f, ok := c.factories[typ]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	m := f()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	return m, nil
}

// Deref returns the value a decoded pointer variant points to, so callers
// can switch on value types whether m came off the wire or was built locally.
func Deref(m Message) Message {
	v := reflect.ValueOf(m)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return m
	}
	if inner, ok := v.Elem().Interface().(Message); ok {
		return inner
	}
	return m
}
