package quota

import "errors"

var (
	// ErrRecordMissing signals an increment against a user with no ledger row.
	ErrRecordMissing = errors.New("quota record missing")
	// ErrNegativeBytes rejects negative byte deltas.
	ErrNegativeBytes = errors.New("byte count must not be negative")
)
