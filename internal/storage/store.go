// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/splitsync/internal/models"
)

var (
	// ErrBillNotFound is returned when the requested bill does not exist.
	// It is a terminal condition for a sync request, distinct from a
	// conflict (which is a normal, expected outcome).
	ErrBillNotFound = errors.New("bill not found")

	// ErrConcurrentUpdate is returned by SaveBill when another writer
	// committed a newer version first. The reconciliation engine reacts by
	// discarding its in-memory changes and re-fetching.
	ErrConcurrentUpdate = errors.New("bill was modified concurrently")
)

// Store defines the interface for bill storage operations. This abstraction
// allows swapping storage backends (SQLite, PostgreSQL, etc.) without
// changing the reconciliation engine.
type Store interface {
	// CreateBill persists a new bill. The bill.ID field is populated by
	// the store if empty.
	CreateBill(ctx context.Context, bill *models.Bill) error

	// LoadBillWithDetails retrieves a bill with its full entity graph:
	// members, expenses with items, and settled transfers.
	// Returns ErrBillNotFound if the bill does not exist.
	LoadBillWithDetails(ctx context.Context, billID string) (*models.Bill, error)

	// SaveBill replaces the bill's persisted state under an optimistic
	// version precondition: the write only succeeds if the stored version
	// still equals expectedVersion. Returns ErrConcurrentUpdate otherwise.
	SaveBill(ctx context.Context, bill *models.Bill, expectedVersion int64) error

	// Close releases any resources held by the store.
	Close() error
}

// UserStore defines the interface for user persistence operations.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}
