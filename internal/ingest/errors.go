package ingest

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a status change that would move a job backwards.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrEmptyURL is returned when a submission carries no URL.
	ErrEmptyURL = errors.New("url is empty")
	// ErrUnknownSourceType is returned for source types other than sqlite and postgres.
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrSourceNotConnected is returned when a source type has no open connection.
	ErrSourceNotConnected = errors.New("source not connected")
	// ErrSourceNotConfigured is returned when a source has no table/column selection.
	ErrSourceNotConfigured = errors.New("source not configured")
	// ErrAlreadyPolling is returned when polling is started twice for one source.
	ErrAlreadyPolling = errors.New("source already polling")
)
