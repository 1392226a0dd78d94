package core

import (
	"errors"
	"fmt"

	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/storage"
	"btclc/core/tag"
	"btclc/validator"
)

// Errors surfaced by Instantiate, Execute and Query. Match with errors.Is.
var (
	ErrMalformedHeader    = header.ErrMalformedHeader
	ErrInsufficientWork   = validator.ErrInsufficientWork
	ErrBadDifficulty      = validator.ErrBadDifficulty
	ErrBadTimestamp       = validator.ErrBadTimestamp
	ErrInvalidTagEncoding = tag.ErrInvalidTagEncoding
	ErrNotFound           = storage.ErrNotFound
	ErrConfig             = config.ErrConfig

	ErrUnknownParent      = errors.New("unknown parent")
	ErrReorgTooDeep       = errors.New("reorg too deep")
	ErrEmptyBatch         = errors.New("no new headers in batch")
	ErrTagMismatch        = errors.New("checkpoint tag mismatch")
	ErrAnchorNotCanonical = errors.New("anchor header not canonical")
	ErrEpochImmutable     = errors.New("epoch already confirmed")
	ErrEpochOrphaned      = errors.New("epoch orphaned")
	ErrAckTimedOut        = errors.New("acknowledgment timed out")
	ErrNotInitialized     = errors.New("light client not initialized")
	ErrAlreadyInitialized = errors.New("light client already initialized")
	ErrInvalidEnv         = errors.New("invalid host environment")
)

// BatchError reports the header that rejected a batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("header[%d]: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
