// Package tablestore is the client for the durable table service: a
// partition/row-key store holding the authoritative copy of every entity.
// The caching layer sits in front of it; nothing in this package caches.
package tablestore

import (
	"context"
	"errors"
	"time"

	"github.com/astral-systems/starmap/models"
)

var (
	// ErrNotFound indicates the store has no entity with that key.
	ErrNotFound = errors.New("entity not found")

	// ErrUnavailable wraps transport or backend failures. Callers surface
	// these as server errors; retry policy belongs to the caller.
	ErrUnavailable = errors.New("table store unavailable")
)

// Record is an entity snapshot as the store holds it. Data is the JSON
// representation of the entity; the store never inspects it.
type Record struct {
	Type      models.EntityType
	ID        string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilter narrows List results. A zero value means no restriction.
type ListFilter struct {
	Limit int
}

type Store interface {
	Read(ctx context.Context, typ models.EntityType, id string) (*Record, error)
	// Write creates or replaces the record for (typ, id) and returns the
	// committed snapshot.
	Write(ctx context.Context, rec *Record) (*Record, error)
	Delete(ctx context.Context, typ models.EntityType, id string) error
	List(ctx context.Context, typ models.EntityType, filter ListFilter) ([]*Record, error)
}

// partition key per entity kind, mirroring the upstream table layout
func partitionFor(typ models.EntityType) string {
	switch typ {
	case models.EntityTypeUser:
		return "USER"
	default:
		return "STAR"
	}
}
