package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAggregationCancelled marks output of a superseded search. It is never
	// shown to users.
	ErrAggregationCancelled = errors.New("aggregation cancelled")
)

type SourceQueryError struct {
	Source     string
	Op         string
	StatusCode int
	Err        error
}

func (e *SourceQueryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source %s %s: HTTP %d: %v", e.Source, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceQueryError) Unwrap() error { return e.Err }

type ManifestFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ManifestFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch manifest %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
}

func (e *ManifestFetchError) Unwrap() error { return e.Err }

type ManifestParseError struct {
	URL    string
	Reason string
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %s", e.URL, e.Reason)
}

type MeasurementTimeoutError struct {
	Phase  string
	Budget time.Duration
	Err    error
}

func (e *MeasurementTimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded %s", e.Phase, e.Budget)
}

func (e *MeasurementTimeoutError) Unwrap() error { return e.Err }
