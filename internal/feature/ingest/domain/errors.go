// Package domain defines domain-level errors for the ingest feature.
package domain

import "errors"

// Classified failures of the ingestion pipeline.
// Upstream errors propagate out of the provider adapter and are caught per
// symbol by the orchestrator; they never abort the processing of other
// symbols.
var (
	// ErrUpstream indicates the provider signaled an error inside a
	// 200-status JSON body ("Error Message" field).
	ErrUpstream = errors.New("upstream API error")

	// ErrRateLimited indicates the provider rejected the call due to rate
	// limiting ("Note" field).
	ErrRateLimited = errors.New("upstream rate limit reached")

	// ErrUpstreamInfo indicates the provider returned an informational
	// response instead of data ("Information" field).
	ErrUpstreamInfo = errors.New("upstream returned informational response")

	// ErrInstrumentCreate indicates the instrument record could not be
	// created. This is fatal for the affected symbol only.
	ErrInstrumentCreate = errors.New("failed to create instrument record")
)
