package model

import "errors"

var (
	ErrUnknownElement    = errors.New("model: unknown element")
	ErrForeignElement    = errors.New("model: element does not belong to definition")
	ErrMalformedGraph    = errors.New("model: malformed graph")
	ErrInvalidAnnotation = errors.New("model: invalid annotation")
)
