package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrClosed             = errors.New("closed")
	ErrInvalidTick        = errors.New("invalid tick")
	ErrInvalidLevel       = errors.New("invalid price level")
	ErrInvalidFill        = errors.New("invalid fill")
	ErrOverclose          = errors.New("overclose: reducing more than held")
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrUnknownTicket      = errors.New("unknown order ticket")
	ErrDuplicateCollector = errors.New("collector already registered for venue/symbol")
	ErrInvalidMode        = errors.New("invalid trading mode")
	ErrLockHeld           = errors.New("lock already held")
)
