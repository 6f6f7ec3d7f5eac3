package crypto

import "errors"

var (
	ErrNonFiniteFloat  = errors.New("NaN and Inf are not representable")
	ErrInvalidNumber   = errors.New("invalid JSON number")
	ErrInvalidUTF8     = errors.New("string is not valid UTF-8")
	ErrNonStringMapKey = errors.New("map keys must be strings")
	ErrUnsupportedType = errors.New("unsupported type for canonicalization")
	ErrKeyCollision    = errors.New("normalized map key collision")
)
