package domain

import "errors"

var (
	// ErrSceneNotFound marks a catalog miss. Scene-fatal.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrOrbitNotFound means neither precise nor restituted orbits exist. Scene-fatal.
	ErrOrbitNotFound = errors.New("no orbit file found")
	// ErrCoverage means the DEM could not be made to cover the target. Scene-fatal.
	ErrCoverage = errors.New("dem coverage not guaranteed")
	// ErrProcessingFailed means the expected RTC output artifact is absent. Scene-fatal.
	ErrProcessingFailed = errors.New("rtc processing produced no output")
	// ErrPublish marks an artifact that failed both transfer paths.
	ErrPublish = errors.New("publish failed")
	// ErrTimeout marks a bounded wait that expired.
	ErrTimeout = errors.New("timed out")
	// ErrInvalidResolution is a DEM resolution outside the provider's enumerated set.
	ErrInvalidResolution = errors.New("invalid dem resolution")
	// ErrResolutionUnavailable means a tile URL has no variant for the requested resolution.
	ErrResolutionUnavailable = errors.New("dem resolution unavailable")
	// ErrConfig is a configuration load or validation failure. Run-fatal.
	ErrConfig = errors.New("invalid configuration")
	// ErrCredentials is a credential load failure. Run-fatal.
	ErrCredentials = errors.New("credentials unavailable")
)

// IsRunFatal reports whether err must abort the whole run rather than a single scene.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrCredentials)
}
