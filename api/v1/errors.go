package v1

import "errors"

var (
	ErrContentType = errors.New("Content-Type must be application/json")
	ErrBatchCtx    = errors.New("batch request missing in context")
	ErrNoAssets    = errors.New("assets is required")
	ErrBookID      = errors.New("book id is required")
)
