package soundbox

// AudioDevice describes a single playback device reported by the platform.
type AudioDevice struct {
	Name      string
	IsDefault bool
	Volume    float32
}

// StreamConfig carries the parameters needed to open a hardware output stream.
// An empty DeviceName means the platform default device.
type StreamConfig struct {
	SampleRate uint32
	Channels   uint32
	DeviceName string
}

// DataCallback is invoked by the hardware audio thread whenever the device
// needs another buffer. It must fill out with up to frameCount frames of
// interleaved samples in the stream's output format, and must not block.
type DataCallback func(out []byte, frameCount uint32)

// Stream is an open connection to a playback device. Start and Stop may block
// on the platform audio subsystem; Close releases the underlying device.
type Stream interface {
	Start() error
	Stop() error
	Close()
}

// Backend provides access to the platform audio subsystem. It might return
// stale device data if the hardware configuration changed recently.
type Backend interface {
	// Devices queries the platform for the currently available playback
	// devices. The platform is queried anew on every call.
	Devices() ([]AudioDevice, error)

	// OpenStream opens (but does not start) a playback stream on the device
	// named by cfg, registering cb as its buffer-fill callback.
	OpenStream(cfg StreamConfig, cb DataCallback) (Stream, error)

	// Release frees any resources allocated by the Backend. It is important
	// to call Release once done using the Backend.
	Release() error
}
