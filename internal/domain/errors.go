package domain

import "errors"

var (
	ErrDuplicateHandle = errors.New("handle already registered")
	ErrHandleClosed    = errors.New("handle closed")
	ErrDeliveryTimeout = errors.New("delivery timed out")
	ErrRelayStopped    = errors.New("relay stopped")
)
