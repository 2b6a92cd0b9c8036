package bundle

import "errors"

var (
	ErrMissingManifest   = errors.New("archive has no structuredData.json")
	ErrMalformedManifest = errors.New("manifest is not a valid JSON object")
	ErrCorruptArchive    = errors.New("result is not a readable zip archive")
)

// UnpackError reports why an archive could not become a bundle. Reason is
// one of the sentinel errors above; Err carries the underlying cause.
type UnpackError struct {
	Reason error
	Err    error
}

func (e *UnpackError) Error() string {
	if e.Err != nil {
		return "unpack: " + e.Reason.Error() + ": " + e.Err.Error()
	}
	return "unpack: " + e.Reason.Error()
}

func (e *UnpackError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}
