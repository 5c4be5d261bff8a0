package autosave

import "errors"

var (
	// ErrNoMatch means the snapshot held nothing image-like. It is not a
	// failure; the outcome is Ignored.
	ErrNoMatch = errors.New("clipboard content is not an image")

	// ErrSizeExceeded means the content is larger than the configured limit.
	ErrSizeExceeded = errors.New("content exceeds size limit")

	// ErrDuplicateContent means identical bytes were already saved into the
	// target directory.
	ErrDuplicateContent = errors.New("content already saved")

	// ErrNetworkFailure covers timeouts, connection errors and non-2xx
	// responses while fetching a remote URL.
	ErrNetworkFailure = errors.New("network failure")

	// ErrDecodeFailure means the bytes are not a decodable image.
	ErrDecodeFailure = errors.New("not a decodable image")

	// ErrIO covers failures writing the image or the checksum log.
	ErrIO = errors.New("i/o failure")

	// ErrNoTargetDir means no target directory is configured.
	ErrNoTargetDir = errors.New("no target directory configured")

	// ErrDisabled means automatic saving is switched off.
	ErrDisabled = errors.New("auto save is disabled")

	// ErrRebuilding is returned for events and requests that arrive while the
	// checksum index is being rebuilt.
	ErrRebuilding = errors.New("checksum rebuild in progress")

	// ErrStopped is returned once the pipeline's event loop has exited.
	ErrStopped = errors.New("pipeline stopped")

	// ErrInvalidSetting is returned by setters given an out-of-range value.
	ErrInvalidSetting = errors.New("invalid setting")
)
