package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/syncbox/internal/transfer"
)

var (
	// ErrStoreUnavailable means the store cannot be opened for a pass: the
	// database is unreachable, not migrated, or held by another pass.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a status write would break the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicate is returned when inserting an oc id that already exists.
	ErrDuplicate = errors.New("record already exists")
)

// Order controls the order of Query results.
type Order string

const (
	// OrderDiscovery returns records in insertion order.
	OrderDiscovery Order = "discovery"
	// OrderFileName returns records sorted by file name, then insertion order.
	OrderFileName Order = "file_name"
)

// Filter is the predicate for Query. Zero fields do not constrain.
type Filter struct {
	Account         string
	Statuses        []transfer.Status
	ExcludeStatuses []transfer.Status
	Selector        transfer.Selector
	Chunk           *int
	OrderBy         Order
	Limit           int
}

// Update carries the extra fields written together with a status change.
// Empty Etag, FileName and ServerURL keep the stored values; the error fields
// are always written so a success clears a previous failure.
type Update struct {
	Etag         string
	Size         int64
	FileName     string
	ServerURL    string
	ErrorMessage string
	ErrorCode    int
}

// RecordReader is the read side of the store. UI collaborators only need this.
type RecordReader interface {
	Query(ctx context.Context, f Filter) ([]transfer.Record, error)
	Get(ctx context.Context, ocID string) (transfer.Record, error)
	CountStatus(ctx context.Context, account string, statuses ...transfer.Status) (int, error)
}

// RecordWriter is the write side of the store.
type RecordWriter interface {
	Insert(ctx context.Context, rec transfer.Record) error
	SetStatus(ctx context.Context, ocID string, status transfer.Status, upd Update) error
	// Claim moves a record from one status to another only if it is still in from.
	Claim(ctx context.Context, ocID string, from, to transfer.Status) (bool, error)
	Delete(ctx context.Context, ocID string) error
	// ReplaceWithGroup atomically inserts group and deletes the wait-upload seed.
	ReplaceWithGroup(ctx context.Context, seedOcID string, group []transfer.Record) error
}

// AssetLedger remembers which discovery-source items were already enqueued.
type AssetLedger interface {
	KnownAsset(ctx context.Context, account, assetID string) (bool, error)
	RememberAsset(ctx context.Context, account, assetID string) error
}

// Store is the transfer record store.
type Store interface {
	RecordReader
	RecordWriter
	AssetLedger

	// Ping warms the connection and fails with ErrStoreUnavailable if the
	// database cannot be used.
	Ping(ctx context.Context) error
	// Acquire opens the store for a pass. Only one holder per account may
	// hold it; a second caller gets ErrStoreUnavailable. Leases older than
	// ttl are considered abandoned and taken over.
	Acquire(ctx context.Context, account, holder string, ttl time.Duration) (release func(), err error)
	// RearmStale puts active records untouched since before olderThan back
	// into their wait status and returns how many were moved.
	RearmStale(ctx context.Context, account string, olderThan time.Time) (int, error)
}
