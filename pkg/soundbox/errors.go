package soundbox

import "errors"

// Recoverable failure conditions reported by the Engine. All of them leave
// the engine usable; none terminate the process.
var (
	// ErrDecode indicates a source file that could not be opened or decoded.
	ErrDecode = errors.New("sound file cannot be decoded")

	// ErrDevice indicates a hardware stream that could not be opened or started.
	ErrDevice = errors.New("playback device unavailable")

	// ErrSoundNotFound indicates an operation referencing an unknown sound id.
	ErrSoundNotFound = errors.New("sound does not exist")

	// ErrDeviceNotFound indicates an operation referencing an unknown device name.
	ErrDeviceNotFound = errors.New("device does not exist")
)
