// Package store persists JSON documents grouped in named collections.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("document not found")

// Range bounds a field to [Gte, Lt). A nil bound is open.
type Range struct {
	Field string
	Gte   any
	Lt    any
}

// Filter selects documents whose fields equal every Eq entry and fall
// inside every Range. The zero Filter matches everything.
type Filter struct {
	Eq    map[string]any
	Range []Range
}

type ListOptions struct {
	Sort   string
	Desc   bool
	Limit  int
	Offset int
}

// Document is a stored record. Body is the JSON the caller inserted.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Decode unmarshals the body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// DocumentStore is opaque to callers: documents go in as any JSON-encodable
// value and come back as raw JSON.
type DocumentStore interface {
	Insert(ctx context.Context, collection string, doc any) (string, error)
	// Update merges set into every matching document and returns how many changed.
	Update(ctx context.Context, collection string, filter Filter, set map[string]any) (int64, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	GetList(ctx context.Context, collection string, filter Filter, opts ListOptions) ([]Document, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	Distinct(ctx context.Context, collection, field string, filter Filter) ([]any, error)
	Close() error
}
