package collection

import "errors"

var (
	ErrUnknownSite   = errors.New("unknown search site")
	ErrCardNotFound  = errors.New("card not in collection")
	ErrInvalidImport = errors.New("invalid collections import")
	ErrArtistMissing = errors.New("artist is required")
)
