package store

import "errors"

var (
	ErrQueueEmpty     = errors.New("queue empty")
	ErrTicketNotFound = errors.New("ticket not found")
)
