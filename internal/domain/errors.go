package domain

import "errors"

var (
	ErrNegativeTokens  = errors.New("token counts must be non-negative")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrUpstream        = errors.New("upstream request failed")
)
