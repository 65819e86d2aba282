package storagebridge

import (
	"context"
	"fmt"

	"github.com/c360/cachescope/errors"
)

// ListenerBackend is a synchronous key-value store with typed getters and a
// native change listener.
type ListenerBackend interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	GetNumber(ctx context.Context, key string) (float64, bool, error)
	GetBoolean(ctx context.Context, key string) (bool, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	GetAllKeys(ctx context.Context) ([]string, error)
	AddOnValueChangedListener(fn func(key string)) (remove func())
}

// AsyncBackend is an enumerable string key-value store.
type AsyncBackend interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	GetAllKeys(ctx context.Context) ([]string, error)
}

// SecureBackend is a string key-value store that cannot enumerate its keys.
type SecureBackend interface {
	GetItemAsync(ctx context.Context, key string) (string, bool, error)
	SetItemAsync(ctx context.Context, key, value string) error
	DeleteItemAsync(ctx context.Context, key string) error
}

// Kind tags a backend instance with its shape.
type Kind string

// Backend kinds
const (
	KindMMKV   Kind = "mmkv"
	KindAsync  Kind = "async"
	KindSecure Kind = "secure"
)

// Backend is a backend instance tagged with its kind.
type Backend struct {
	Kind     Kind
	Instance any
}

// Detect tags instance by the shape it implements. Prefer building Backend
// explicitly; Detect exists for callers that only hold the instance.
func Detect(instance any) (Backend, error) {
	switch instance.(type) {
	case ListenerBackend:
		return Backend{Kind: KindMMKV, Instance: instance}, nil
	case AsyncBackend:
		return Backend{Kind: KindAsync, Instance: instance}, nil
	case SecureBackend:
		return Backend{Kind: KindSecure, Instance: instance}, nil
	default:
		return Backend{}, errors.WrapInvalid(
			fmt.Errorf("%w: %T", errors.ErrUnsupportedBackend, instance),
			"storagebridge", "Detect", "match backend shape")
	}
}

// Writer is the uniform write surface over every backend kind.
type Writer interface {
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Reader reads one key. ok is false when the key does not exist.
type Reader func(ctx context.Context, key string) (value any, ok bool, err error)

// NewWriter adapts b to Writer.
func NewWriter(b Backend) (Writer, error) {
	switch b.Kind {
	case KindMMKV:
		if inst, ok := b.Instance.(ListenerBackend); ok {
			return mmkvWriter{inst}, nil
		}
	case KindAsync:
		if inst, ok := b.Instance.(AsyncBackend); ok {
			return asyncWriter{inst}, nil
		}
	case KindSecure:
		if inst, ok := b.Instance.(SecureBackend); ok {
			return secureWriter{inst}, nil
		}
	}
	return nil, mismatch("NewWriter", b)
}

// NewReader adapts b to Reader. Stored text is decoded as JSON when it
// parses and returned verbatim otherwise.
func NewReader(b Backend) (Reader, error) {
	switch b.Kind {
	case KindMMKV:
		if inst, ok := b.Instance.(ListenerBackend); ok {
			return mmkvReader(inst), nil
		}
	case KindAsync:
		if inst, ok := b.Instance.(AsyncBackend); ok {
			return textReader(inst.GetItem), nil
		}
	case KindSecure:
		if inst, ok := b.Instance.(SecureBackend); ok {
			return textReader(inst.GetItemAsync), nil
		}
	}
	return nil, mismatch("NewReader", b)
}

func mismatch(method string, b Backend) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %T is not a %s backend", errors.ErrUnsupportedBackend, b.Instance, b.Kind),
		"storagebridge", method, "adapt backend")
}

type mmkvWriter struct{ b ListenerBackend }

func (w mmkvWriter) Set(ctx context.Context, key, value string) error { return w.b.Set(ctx, key, value) }
func (w mmkvWriter) Delete(ctx context.Context, key string) error     { return w.b.Delete(ctx, key) }

type asyncWriter struct{ b AsyncBackend }

func (w asyncWriter) Set(ctx context.Context, key, value string) error {
	return w.b.SetItem(ctx, key, value)
}
func (w asyncWriter) Delete(ctx context.Context, key string) error { return w.b.RemoveItem(ctx, key) }

type secureWriter struct{ b SecureBackend }

func (w secureWriter) Set(ctx context.Context, key, value string) error {
	return w.b.SetItemAsync(ctx, key, value)
}
func (w secureWriter) Delete(ctx context.Context, key string) error {
	return w.b.DeleteItemAsync(ctx, key)
}

func textReader(get func(context.Context, string) (string, bool, error)) Reader {
	return func(ctx context.Context, key string) (any, bool, error) {
		raw, ok, err := get(ctx, key)
		if err != nil || !ok {
			return nil, ok, err
		}
		return decode(raw), true, nil
	}
}

// mmkvReader tries the typed getters in turn, string first.
func mmkvReader(b ListenerBackend) Reader {
	return func(ctx context.Context, key string) (any, bool, error) {
		if s, ok, err := b.GetString(ctx, key); err != nil || ok {
			if err != nil {
				return nil, false, err
			}
			return decode(s), true, nil
		}
		if n, ok, err := b.GetNumber(ctx, key); err != nil || ok {
			return n, ok, err
		}
		v, ok, err := b.GetBoolean(ctx, key)
		return v, ok, err
	}
}
