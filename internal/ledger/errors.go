package ledger

import "errors"

var (
	ErrDuplicateBase = errors.New("base record already exists for decision")
	ErrInvalidRecord = errors.New("invalid ledger record")
	ErrImmutable     = errors.New("immutable log")
)
