package scrape

import "errors"

// Failure classes for the collection pipeline. Jobs log these and decide
// whether to skip a product, skip a platform pass, or retry.
var (
	// ErrCircuitOpen means the platform breaker is open; the caller must
	// skip the whole platform pass for this invocation.
	ErrCircuitOpen = errors.New("circuit open for platform")

	// ErrBlockDetected means a CAPTCHA or anti-bot sentinel was found in the
	// rendered page.
	ErrBlockDetected = errors.New("block page detected")

	// ErrExtraction means the page rendered but critical fields (title,
	// price) were missing.
	ErrExtraction = errors.New("extraction failed")

	// ErrFetchTimeout means the browser render exceeded its deadline.
	ErrFetchTimeout = errors.New("fetch timed out")

	// ErrUnknownPlatform means no extractor claims the URL.
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrInvalidURL means the URL matched a platform but carried no
	// extractable product id.
	ErrInvalidURL = errors.New("invalid product url")
)
