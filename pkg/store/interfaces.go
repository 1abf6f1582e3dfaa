package store

import "context"

// DepositStore is the durable repository of Deposit records, keyed by
// deposit id. Implementations must serialize updates per id (or use
// optimistic concurrency on Dates.LastActivityAt) and must make a
// successful Update durable before returning.
type DepositStore interface {
	// Create inserts a new record, failing with ErrAlreadyExists if the
	// id collides.
	Create(ctx context.Context, d *Deposit) error

	// GetByID returns the record or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Deposit, error)

	// GetByStatus returns a snapshot list for (status, chainName);
	// insertion order is not significant.
	GetByStatus(ctx context.Context, status DepositStatus, chainName string) ([]*Deposit, error)

	// Update persists a modified record, failing with ErrNotFound if it
	// does not exist.
	Update(ctx context.Context, d *Deposit) error
}

// RedemptionStore is the durable repository of Redemption records,
// keyed by redemption id (the L2 transaction hash of the request).
type RedemptionStore interface {
	Create(ctx context.Context, r *Redemption) error
	GetByID(ctx context.Context, id string) (*Redemption, error)
	GetByStatus(ctx context.Context, status RedemptionStatus, chainName string) ([]*Redemption, error)
	Update(ctx context.Context, r *Redemption) error
}
