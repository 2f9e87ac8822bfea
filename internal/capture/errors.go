package capture

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid capture transition")
	ErrNoFamily          = errors.New("no family selected")
	ErrUnknownOption     = errors.New("unknown finish option")
)

// DeviceError is a camera, microphone or encoder failure. The session
// returns to prep.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// UploadError is a failed finish. The session returns to review with the
// artifact intact.
type UploadError struct {
	Progress float64
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("capture upload failed at %.0f%%: %v", e.Progress, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func invalid(from Phase, action string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
}
