package population

import "errors"

// Sentinel kinds for reference data errors.
var (
	// ErrConfig marks malformed or incomplete reference configuration.
	// It is fatal to startup of the scoring subsystem.
	ErrConfig = errors.New("reference configuration error")

	ErrEmptyDistribution = errors.New("empty distribution")
	ErrUnknownBand       = errors.New("unknown population band")
)
