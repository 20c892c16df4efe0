package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrImmutableField      = errors.New("immutable field violation")
	ErrAlreadyCanceled     = errors.New("position already canceled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotPaused           = errors.New("position not paused")
	ErrNotArmed            = errors.New("emergency withdrawal not armed")
	ErrDelayNotElapsed     = errors.New("emergency delay not elapsed")
	ErrReentrantExecution  = errors.New("reentrant execution detected")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrNoPriceData         = errors.New("no price data")
	ErrRouteFailed         = errors.New("route failed")
	ErrLockHeld            = errors.New("lock already held")
)
