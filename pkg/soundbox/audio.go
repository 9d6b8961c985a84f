package soundbox

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/soundbox-audio/soundbox/pkg/soundbox/util"
)

// Engine orchestrates device acquisition and playback sessions. All exported
// operations are safe to call from any goroutine while hardware callback
// threads are actively pulling frames.
//
// The session registry maps each open hardware stream to its PlayingSound,
// stored by value; the Engine is the sole owner of the stream/decoder pair
// and callers only ever receive snapshots.
type Engine struct {
	logger  *zap.SugaredLogger
	config  *CanonicalConfig
	backend Backend
	sink    EventSink
	queue   *taskQueue

	// swapped out in tests for a fake decoding capability
	openDecoder decoderOpenFunc

	deviceLock    sync.RWMutex
	devices       map[string]AudioDevice
	defaultDevice string

	soundsLock sync.RWMutex
	sounds     map[Stream]PlayingSound

	soundIDCounter uint32
}

// NewEngine creates a new Engine instance. The sink may be nil, in which
// case lifecycle events are only logged.
func NewEngine(logger *zap.SugaredLogger, config *CanonicalConfig, backend Backend, sink EventSink) (*Engine, error) {
	logger = logger.Named("audio")

	e := &Engine{
		logger:      logger,
		config:      config,
		backend:     backend,
		sink:        sink,
		queue:       newTaskQueue(logger),
		openDecoder: openDecoder,
		devices:     make(map[string]AudioDevice),
		sounds:      make(map[Stream]PlayingSound),
	}

	logger.Debug("Created audio engine instance")

	return e, nil
}

// Initialize enumerates the playback devices and restores their persisted
// volumes. Enumeration failure is not fatal: the engine stays usable with an
// empty device list.
func (e *Engine) Initialize() error {
	devices, err := e.backend.Devices()
	if err != nil {
		e.logger.Warnw("Failed to enumerate playback devices, continuing without", "error", err)
		devices = nil
	}

	e.deviceLock.Lock()
	e.devices = make(map[string]AudioDevice, len(devices))
	e.defaultDevice = ""
	for _, device := range devices {
		e.devices[device.Name] = device
		if device.IsDefault {
			e.defaultDevice = device.Name
		}
	}
	e.deviceLock.Unlock()

	e.applyConfiguredVolumes()
	e.setupOnConfigReload()

	e.logger.Infow("Audio engine initialized",
		"deviceCount", len(devices),
		"defaultDevice", e.defaultDevice)

	return nil
}

// Release stops the task worker and frees the backend. Active sounds should
// be stopped beforehand via StopAll.
func (e *Engine) Release() error {
	e.queue.stop()

	if err := e.backend.Release(); err != nil {
		e.logger.Warnw("Failed to release audio backend", "error", err)
		return fmt.Errorf("release audio backend: %w", err)
	}

	return nil
}

// Play starts playback of the given sound. When device is nil the sound
// plays on the default output device. The sink's OnSoundPlayed fires on the
// calling goroutine before Play returns.
func (e *Engine) Play(sound Sound, device *AudioDevice) (*PlayingSound, error) {
	if !e.allowOverlapping() {
		e.StopAll()
	}

	decoder, err := e.openDecoder(sound.Path)
	if err != nil {
		e.logger.Warnw("Failed to create decoder from file", "path", sound.Path, "error", err)
		return nil, err
	}

	target := e.resolvePlaybackDevice(device)

	length := decoder.Length()
	sampleRate := decoder.SampleRate()

	var lengthInMs uint64
	if sampleRate > 0 {
		lengthInMs = uint64(float64(length) / float64(sampleRate) * 1000)
	}

	var stream Stream
	callback := e.newDataCallback(decoder, target.Name, &stream)

	stream, err = e.backend.OpenStream(StreamConfig{
		SampleRate: sampleRate,
		Channels:   outputChannels,
		DeviceName: target.Name,
	}, callback)
	if err != nil {
		decoder.Close()
		e.logger.Warnw("Failed to open playback stream", "path", sound.Path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}

	playing := PlayingSound{
		ID:         atomic.AddUint32(&e.soundIDCounter, 1),
		Sound:      sound,
		Device:     target,
		Length:     length,
		LengthInMs: lengthInMs,
		SampleRate: sampleRate,
		Repeat:     sound.Repeat,
		stream:     stream,
		decoder:    decoder,
	}

	e.soundsLock.Lock()
	e.sounds[stream] = playing
	e.soundsLock.Unlock()

	if err := stream.Start(); err != nil {
		e.soundsLock.Lock()
		delete(e.sounds, stream)
		e.soundsLock.Unlock()

		stream.Close()
		decoder.Close()

		e.logger.Warnw("Failed to start playback stream", "path", sound.Path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}

	e.logger.Debugw("Started sound", "sound", playing)
	e.notifyPlayed(playing)

	snapshot := playing
	return &snapshot, nil
}

// StopAll stops every active sound and clears the registry. Teardown happens
// with the registry lock released, since stopping a hardware stream may block
// on the platform audio subsystem.
func (e *Engine) StopAll() {
	e.soundsLock.Lock()
	detached := e.sounds
	e.sounds = make(map[Stream]PlayingSound)
	e.soundsLock.Unlock()

	for _, sound := range detached {
		e.teardown(sound)
	}

	if len(detached) > 0 {
		e.logger.Debugw("Stopped all sounds", "count", len(detached))
	}
}

// Stop stops the sound with the given id, returning whether it was found.
func (e *Engine) Stop(id uint32) bool {
	e.soundsLock.Lock()
	stream, sound, found := e.findByID(id)
	if !found {
		e.soundsLock.Unlock()
		e.logger.Warnw("Failed to stop sound, sound does not exist", "id", id)
		return false
	}
	delete(e.sounds, stream)
	e.soundsLock.Unlock()

	e.teardown(sound)
	e.logger.Debugw("Stopped sound", "sound", sound)

	return true
}

// Pause halts the sound's hardware stream without releasing any resources,
// so the real-time callback stops being invoked. Returns a snapshot of the
// session either way.
func (e *Engine) Pause(id uint32) (*PlayingSound, error) {
	e.soundsLock.Lock()
	stream, sound, found := e.findByID(id)
	if !found {
		e.soundsLock.Unlock()
		e.logger.Warnw("Failed to pause sound, sound does not exist", "id", id)
		return nil, fmt.Errorf("pause sound %d: %w", id, ErrSoundNotFound)
	}

	wasPaused := sound.Paused
	sound.Paused = true
	e.sounds[stream] = sound
	snapshot := sound
	e.soundsLock.Unlock()

	if !wasPaused {
		if err := stream.Stop(); err != nil {
			e.logger.Warnw("Failed to halt stream for pause", "sound", snapshot, "error", err)
		}
	}

	return &snapshot, nil
}

// Resume restarts a paused sound's hardware stream.
func (e *Engine) Resume(id uint32) (*PlayingSound, error) {
	e.soundsLock.Lock()
	stream, sound, found := e.findByID(id)
	if !found {
		e.soundsLock.Unlock()
		e.logger.Warnw("Failed to resume sound, sound does not exist", "id", id)
		return nil, fmt.Errorf("resume sound %d: %w", id, ErrSoundNotFound)
	}

	wasPaused := sound.Paused
	sound.Paused = false
	e.sounds[stream] = sound
	snapshot := sound
	e.soundsLock.Unlock()

	if wasPaused {
		if err := stream.Start(); err != nil {
			e.logger.Warnw("Failed to restart stream for resume", "sound", snapshot, "error", err)
		}
	}

	return &snapshot, nil
}

// Seek requests a jump to the given position. The decoder seek itself is
// deferred to the next real-time callback so the decoder is never touched
// from two threads at once; the returned snapshot already reflects the
// requested position.
func (e *Engine) Seek(id uint32, positionMs uint64) (*PlayingSound, error) {
	e.soundsLock.Lock()
	stream, sound, found := e.findByID(id)
	if !found {
		e.soundsLock.Unlock()
		e.logger.Warnw("Failed to seek sound, sound does not exist", "id", id)
		return nil, fmt.Errorf("seek sound %d: %w", id, ErrSoundNotFound)
	}

	var target uint64
	if sound.LengthInMs > 0 {
		target = uint64(float64(positionMs) / float64(sound.LengthInMs) * float64(sound.Length))
	}
	if target > sound.Length {
		target = sound.Length
	}

	sound.SeekTo = target
	sound.ShouldSeek = true
	e.sounds[stream] = sound

	snapshot := sound
	snapshot.ReadFrames = target
	snapshot.ReadInMs = progressMs(target, sound.Length, sound.LengthInMs)
	e.soundsLock.Unlock()

	return &snapshot, nil
}

// GetVolume returns the stored volume for the named device, or 1.0 for
// unknown devices. Read fresh by the real-time callback on every buffer.
func (e *Engine) GetVolume(deviceName string) float32 {
	e.deviceLock.RLock()
	defer e.deviceLock.RUnlock()

	if device, ok := e.devices[deviceName]; ok {
		return device.Volume
	}
	return 1.0
}

// SetVolume updates the named device's volume and persists it through the
// settings layer. Takes effect on the device's next buffer.
func (e *Engine) SetVolume(deviceName string, volume float32) error {
	if volume < 0 {
		volume = 0
	}
	volume = util.NormalizeScalar(volume)

	e.deviceLock.Lock()
	device, ok := e.devices[deviceName]
	if !ok {
		e.deviceLock.Unlock()
		e.logger.Warnw("Failed to set volume, device does not exist", "device", deviceName)
		return fmt.Errorf("set volume for %q: %w", deviceName, ErrDeviceNotFound)
	}
	device.Volume = volume
	e.devices[deviceName] = device
	e.deviceLock.Unlock()

	if e.config != nil {
		if err := e.config.SetDeviceVolume(deviceName, volume); err != nil {
			e.logger.Warnw("Failed to persist device volume", "device", deviceName, "error", err)
		}
	}

	return nil
}

// Devices returns a snapshot of the known playback devices, sorted by name.
func (e *Engine) Devices() []AudioDevice {
	e.deviceLock.RLock()
	devices := make([]AudioDevice, 0, len(e.devices))
	for _, device := range e.devices {
		devices = append(devices, device)
	}
	e.deviceLock.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices
}

// GetPlayingSounds returns a snapshot copy of all active sessions.
func (e *Engine) GetPlayingSounds() []PlayingSound {
	e.soundsLock.RLock()
	sounds := make([]PlayingSound, 0, len(e.sounds))
	for _, sound := range e.sounds {
		sounds = append(sounds, sound)
	}
	e.soundsLock.RUnlock()

	sort.Slice(sounds, func(i, j int) bool { return sounds[i].ID < sounds[j].ID })
	return sounds
}

// getPlayingSound looks up the session bound to a hardware stream.
func (e *Engine) getPlayingSound(stream Stream) (PlayingSound, bool) {
	e.soundsLock.RLock()
	defer e.soundsLock.RUnlock()

	sound, ok := e.sounds[stream]
	return sound, ok
}

// findByID scans the registry for a session by sound id. Linear scan is fine
// at the expected scale of a handful of concurrent sounds. Caller must hold
// soundsLock.
func (e *Engine) findByID(id uint32) (Stream, PlayingSound, bool) {
	for stream, sound := range e.sounds {
		if sound.ID == id {
			return stream, sound, true
		}
	}
	return nil, PlayingSound{}, false
}

// teardown releases a session's hardware stream and decoder. Never call with
// soundsLock held: stopping and closing a stream may block.
func (e *Engine) teardown(sound PlayingSound) {
	sound.stream.Close()
	if err := sound.decoder.Close(); err != nil {
		e.logger.Warnw("Failed to close decoder", "sound", sound, "error", err)
	}
}

func (e *Engine) resolvePlaybackDevice(device *AudioDevice) AudioDevice {
	if device != nil {
		return *device
	}

	e.deviceLock.RLock()
	defer e.deviceLock.RUnlock()

	if device, ok := e.devices[e.defaultDevice]; ok {
		return device
	}

	// no default in the enumerated list; the backend falls back to the
	// platform default via an empty device name
	return AudioDevice{Volume: 1.0}
}

func (e *Engine) allowOverlapping() bool {
	if e.config == nil {
		return true
	}
	return e.config.AllowOverlapping
}

// applyConfiguredVolumes restores persisted volumes for devices that are
// present in the enumerated list.
func (e *Engine) applyConfiguredVolumes() {
	if e.config == nil {
		return
	}

	e.deviceLock.Lock()
	defer e.deviceLock.Unlock()

	for name, volume := range e.config.DeviceVolumes {
		device, ok := e.devices[name]
		if !ok {
			continue
		}
		if volume < 0 {
			volume = 0
		}
		device.Volume = volume
		e.devices[name] = device
	}
}

func (e *Engine) setupOnConfigReload() {
	if e.config == nil {
		return
	}

	configReloadedChannel := e.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			e.logger.Info("Detected config reload, re-applying device volumes")
			e.applyConfiguredVolumes()
		}
	}()
}

func (e *Engine) notifyPlayed(sound PlayingSound) {
	if e.sink != nil {
		e.sink.OnSoundPlayed(sound)
	}
}

func (e *Engine) notifyProgressed(sound PlayingSound) {
	if e.sink != nil {
		e.sink.OnSoundProgressed(sound)
	}
}

func (e *Engine) notifyFinished(sound PlayingSound) {
	if e.sink != nil {
		e.sink.OnSoundFinished(sound)
	}
}
