package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Document is the envelope every repository writes.
type Document struct {
	Schema  int             `json:"schema"`
	SavedAt time.Time       `json:"saved_at"`
	Items   json.RawMessage `json:"items"`
}

// CorruptRecordError reports records that were skipped during a load. The
// accompanying value still holds everything that could be read.
type CorruptRecordError struct {
	Key     string
	Skipped int
	Total   int
	First   error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("storage: %s: skipped %d of %d records: %v", e.Key, e.Skipped, e.Total, e.First)
}

func (e *CorruptRecordError) Unwrap() error { return e.First }

// Validator lets record types reject structurally valid but unusable items.
type Validator interface {
	Validate() error
}

// Migration upgrades the raw items of a document written under an older
// schema. Legacy documents without an envelope arrive as schema 0.
type Migration func(from int, items json.RawMessage) (json.RawMessage, error)

// Key joins a namespace and a name the way every repository addresses the
// store ("inbox:notifications").
func Key(namespace, name string) string { return namespace + ":" + name }

func decodeDocument(data []byte) (Document, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{Items: trimmed}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return Document{Items: trimmed}, false
	}
	if _, ok := probe["schema"]; !ok {
		return Document{Items: trimmed}, false
	}
	if _, ok := probe["items"]; !ok {
		return Document{Items: trimmed}, false
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{Items: trimmed}, false
	}
	return doc, true
}

func encodeDocument(schema int, v any) ([]byte, error) {
	items, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Document{Schema: schema, SavedAt: time.Now().UTC(), Items: items})
}

func upgrade(key string, doc Document, schema int, migrate Migration) (json.RawMessage, error) {
	if doc.Schema == schema {
		return doc.Items, nil
	}
	if doc.Schema > schema {
		return nil, fmt.Errorf("storage: %s: schema %d is newer than supported %d", key, doc.Schema, schema)
	}
	if migrate == nil {
		return doc.Items, nil
	}
	items, err := migrate(doc.Schema, doc.Items)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: migrate from schema %d: %w", key, doc.Schema, err)
	}
	return items, nil
}

// ListRepo stores an ordered collection of T under one key.
type ListRepo[T any] struct {
	store   Store
	key     string
	schema  int
	migrate Migration
}

func NewListRepo[T any](store Store, key string, schema int, migrate Migration) *ListRepo[T] {
	return &ListRepo[T]{store: store, key: key, schema: schema, migrate: migrate}
}

func (r *ListRepo[T]) Key() string { return r.key }

// Load returns the stored items. A missing key is an empty list. Items that
// fail to decode or validate are dropped and reported as *CorruptRecordError
// alongside the readable remainder.
func (r *ListRepo[T]) Load(ctx context.Context) ([]T, error) {
	data, err := r.store.Load(ctx, r.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc, _ := decodeDocument(data)
	items, err := upgrade(r.key, doc, r.schema, r.migrate)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(items, &raws); err != nil {
		return nil, &CorruptRecordError{Key: r.key, Skipped: 1, Total: 1, First: err}
	}

	out := make([]T, 0, len(raws))
	var corrupt *CorruptRecordError
	for _, raw := range raws {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			if val, ok := any(&v).(Validator); ok {
				err = val.Validate()
			}
		}
		if err != nil {
			if corrupt == nil {
				corrupt = &CorruptRecordError{Key: r.key, Total: len(raws), First: err}
			}
			corrupt.Skipped++
			continue
		}
		out = append(out, v)
	}
	if corrupt != nil {
		return out, corrupt
	}
	return out, nil
}

func (r *ListRepo[T]) Save(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	b, err := encodeDocument(r.schema, items)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", r.key, err)
	}
	return r.store.Save(ctx, r.key, b)
}

func (r *ListRepo[T]) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, r.key)
}

// ObjectRepo stores a single T under one key.
type ObjectRepo[T any] struct {
	store   Store
	key     string
	schema  int
	migrate Migration
}

func NewObjectRepo[T any](store Store, key string, schema int, migrate Migration) *ObjectRepo[T] {
	return &ObjectRepo[T]{store: store, key: key, schema: schema, migrate: migrate}
}

func (r *ObjectRepo[T]) Key() string { return r.key }

// Load decodes the stored object into a copy of base, so fields absent from
// the stored record keep base's values. ok is false when nothing was stored
// or the record was unreadable (reported as *CorruptRecordError).
func (r *ObjectRepo[T]) Load(ctx context.Context, base T) (T, bool, error) {
	data, err := r.store.Load(ctx, r.key)
	if errors.Is(err, ErrNotFound) {
		return base, false, nil
	}
	if err != nil {
		return base, false, err
	}

	doc, _ := decodeDocument(data)
	items, err := upgrade(r.key, doc, r.schema, r.migrate)
	if err != nil {
		return base, false, err
	}

	v := base
	if err := json.Unmarshal(items, &v); err != nil {
		return base, false, &CorruptRecordError{Key: r.key, Skipped: 1, Total: 1, First: err}
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return base, false, &CorruptRecordError{Key: r.key, Skipped: 1, Total: 1, First: err}
		}
	}
	return v, true, nil
}

func (r *ObjectRepo[T]) Save(ctx context.Context, v T) error {
	b, err := encodeDocument(r.schema, v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", r.key, err)
	}
	return r.store.Save(ctx, r.key, b)
}
