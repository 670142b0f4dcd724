package ledger

import "errors"

// Ledger errors. Pricing errors (pricing.Err*) pass through unwrapped in kind.
var (
	// ErrPoolNotFound is returned when a caller passes an unknown or stale pool ID.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrInvalidInitialReserves is returned when createPool amounts are not positive whole units.
	ErrInvalidInitialReserves = errors.New("invalid initial reserves")

	// ErrInsufficientShares is returned when burning more shares than a position holds.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrPositionNotFound is returned when a provider holds no position in a pool.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInvalidSide is returned for a swap side other than buy or sell.
	ErrInvalidSide = errors.New("invalid side")

	// ErrInvalidProvider is returned for an empty provider or trader identifier.
	ErrInvalidProvider = errors.New("invalid provider id")

	// ErrPoolExists is returned when restoring a pool that is already loaded.
	ErrPoolExists = errors.New("pool already exists")

	// ErrNoSnapshotStore is returned by Snapshot/Restore when no store is configured.
	ErrNoSnapshotStore = errors.New("no snapshot store configured")

	// ErrCorruptSnapshot is returned when a snapshot violates ledger invariants.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

func isShareShortfall(err error) bool {
	return errors.Is(err, ErrInsufficientShares)
}
