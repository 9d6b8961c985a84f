package soundbox

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeStream records lifecycle calls so tests can assert the teardown
// discipline without real hardware.
type fakeStream struct {
	mu       sync.Mutex
	started  int
	stopped  int
	closed   int
	startErr error
}

func (fs *fakeStream) Start() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.startErr != nil {
		return fs.startErr
	}
	fs.started++
	return nil
}

func (fs *fakeStream) Stop() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.stopped++
	return nil
}

func (fs *fakeStream) Close() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed++
}

func (fs *fakeStream) counts() (started, stopped, closed int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.started, fs.stopped, fs.closed
}

type fakeBackend struct {
	devices   []AudioDevice
	devErr    error
	openErr   error
	startErr  error
	streams   []*fakeStream
	callbacks []DataCallback
}

func (fb *fakeBackend) Devices() ([]AudioDevice, error) {
	return fb.devices, fb.devErr
}

func (fb *fakeBackend) OpenStream(cfg StreamConfig, cb DataCallback) (Stream, error) {
	if fb.openErr != nil {
		return nil, fb.openErr
	}
	stream := &fakeStream{startErr: fb.startErr}
	fb.streams = append(fb.streams, stream)
	fb.callbacks = append(fb.callbacks, cb)
	return stream, nil
}

func (fb *fakeBackend) Release() error { return nil }

// fakeDecoder serves a fixed number of frames of silence.
type fakeDecoder struct {
	mu         sync.Mutex
	sampleRate uint32
	length     uint64
	position   uint64
	seeks      []uint64
	closed     bool
}

func (fd *fakeDecoder) SampleRate() uint32 { return fd.sampleRate }
func (fd *fakeDecoder) Length() uint64     { return fd.length }

func (fd *fakeDecoder) ReadFrames(samples [][2]float64) uint64 {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	remaining := fd.length - fd.position
	n := uint64(len(samples))
	if n > remaining {
		n = remaining
	}
	fd.position += n
	return n
}

func (fd *fakeDecoder) Seek(frame uint64) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.position = frame
	fd.seeks = append(fd.seeks, frame)
	return nil
}

func (fd *fakeDecoder) Close() error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.closed = true
	return nil
}

// recordingSink counts lifecycle notifications.
type recordingSink struct {
	mu         sync.Mutex
	played     []PlayingSound
	progressed []PlayingSound
	finished   []PlayingSound
}

func (rs *recordingSink) OnSoundPlayed(sound PlayingSound) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.played = append(rs.played, sound)
}

func (rs *recordingSink) OnSoundProgressed(sound PlayingSound) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.progressed = append(rs.progressed, sound)
}

func (rs *recordingSink) OnSoundFinished(sound PlayingSound) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.finished = append(rs.finished, sound)
}

func (rs *recordingSink) finishedCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.finished)
}

func newTestEngine(t *testing.T, backend *fakeBackend, sink EventSink) *Engine {
	t.Helper()

	engine, err := NewEngine(zap.NewNop().Sugar(), nil, backend, sink)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.queue.stop() })

	engine.openDecoder = func(path string) (Decoder, error) {
		return &fakeDecoder{sampleRate: 44100, length: 441000}, nil
	}

	if err := engine.Initialize(); err != nil {
		t.Fatalf("failed to initialize engine: %v", err)
	}

	return engine
}

func testDevices() []AudioDevice {
	return []AudioDevice{
		{Name: "Speakers", IsDefault: true, Volume: 1.0},
		{Name: "Headphones", Volume: 1.0},
	}
}

func TestPlayRegistersSessionAndNotifies(t *testing.T) {
	backend := &fakeBackend{devices: testDevices()}
	sink := &recordingSink{}
	engine := newTestEngine(t, backend, sink)

	playing, err := engine.Play(Sound{Name: "test", Path: "test.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	if playing.ID == 0 {
		t.Error("expected a non-zero sound id")
	}
	if playing.Length != 441000 {
		t.Errorf("expected length 441000, got %d", playing.Length)
	}
	if playing.LengthInMs != 10000 {
		t.Errorf("expected length 10000 ms, got %d", playing.LengthInMs)
	}
	if playing.Device.Name != "Speakers" {
		t.Errorf("expected default device Speakers, got %q", playing.Device.Name)
	}

	if started, _, _ := backend.streams[0].counts(); started != 1 {
		t.Errorf("expected stream started once, got %d", started)
	}

	// OnSoundPlayed fires synchronously before Play returns
	if len(sink.played) != 1 {
		t.Fatalf("expected 1 played notification, got %d", len(sink.played))
	}

	if sounds := engine.GetPlayingSounds(); len(sounds) != 1 {
		t.Errorf("expected 1 playing sound, got %d", len(sounds))
	}
}

func TestPlayAssignsMonotonicIDs(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	first, err := engine.Play(Sound{Path: "a.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	second, err := engine.Play(Sound{Path: "b.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	if second.ID <= first.ID {
		t.Errorf("expected ids to increase, got %d then %d", first.ID, second.ID)
	}
}

func TestPlayDecodeFailureLeavesStateUnchanged(t *testing.T) {
	backend := &fakeBackend{devices: testDevices()}
	engine := newTestEngine(t, backend, nil)

	decodeErr := errors.New("corrupt file")
	engine.openDecoder = func(path string) (Decoder, error) {
		return nil, decodeErr
	}

	if _, err := engine.Play(Sound{Path: "bad.mp3"}, nil); !errors.Is(err, decodeErr) {
		t.Fatalf("expected decode error, got %v", err)
	}

	if len(backend.streams) != 0 {
		t.Error("expected no hardware stream to be opened")
	}
	if sounds := engine.GetPlayingSounds(); len(sounds) != 0 {
		t.Errorf("expected empty registry, got %d sounds", len(sounds))
	}
	if devices := engine.Devices(); len(devices) != 2 {
		t.Errorf("expected device collection unchanged, got %d devices", len(devices))
	}
}

func TestPlayStreamOpenFailureReleasesDecoder(t *testing.T) {
	backend := &fakeBackend{devices: testDevices(), openErr: errors.New("no device")}
	engine := newTestEngine(t, backend, nil)

	decoder := &fakeDecoder{sampleRate: 44100, length: 1000}
	engine.openDecoder = func(path string) (Decoder, error) { return decoder, nil }

	if _, err := engine.Play(Sound{Path: "test.wav"}, nil); !errors.Is(err, ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
	if !decoder.closed {
		t.Error("expected decoder to be released after stream open failure")
	}
}

func TestPlayStreamStartFailureReleasesResources(t *testing.T) {
	backend := &fakeBackend{devices: testDevices(), startErr: errors.New("device busy")}
	engine := newTestEngine(t, backend, nil)

	decoder := &fakeDecoder{sampleRate: 44100, length: 1000}
	engine.openDecoder = func(path string) (Decoder, error) { return decoder, nil }

	if _, err := engine.Play(Sound{Path: "test.wav"}, nil); !errors.Is(err, ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}

	if _, _, closed := backend.streams[0].counts(); closed != 1 {
		t.Errorf("expected stream closed once, got %d", closed)
	}
	if !decoder.closed {
		t.Error("expected decoder to be released after stream start failure")
	}
	if sounds := engine.GetPlayingSounds(); len(sounds) != 0 {
		t.Errorf("expected empty registry, got %d sounds", len(sounds))
	}
}

func TestPlayExplicitDevice(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	device := AudioDevice{Name: "Headphones", Volume: 1.0}
	playing, err := engine.Play(Sound{Path: "test.wav"}, &device)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	if playing.Device.Name != "Headphones" {
		t.Errorf("expected explicit device Headphones, got %q", playing.Device.Name)
	}
}

func TestStop(t *testing.T) {
	backend := &fakeBackend{devices: testDevices()}
	engine := newTestEngine(t, backend, nil)

	playing, err := engine.Play(Sound{Path: "test.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	if !engine.Stop(playing.ID) {
		t.Fatal("expected stop to find the sound")
	}
	if _, _, closed := backend.streams[0].counts(); closed != 1 {
		t.Errorf("expected stream closed once, got %d", closed)
	}
	if sounds := engine.GetPlayingSounds(); len(sounds) != 0 {
		t.Errorf("expected empty registry, got %d sounds", len(sounds))
	}

	if engine.Stop(playing.ID) {
		t.Error("expected stop on a removed sound to report not found")
	}
}

func TestStopAll(t *testing.T) {
	backend := &fakeBackend{devices: testDevices()}
	sink := &recordingSink{}
	engine := newTestEngine(t, backend, sink)

	for i := 0; i < 3; i++ {
		if _, err := engine.Play(Sound{Path: "test.wav"}, nil); err != nil {
			t.Fatalf("play failed: %v", err)
		}
	}

	engine.StopAll()

	if sounds := engine.GetPlayingSounds(); len(sounds) != 0 {
		t.Fatalf("expected empty registry, got %d sounds", len(sounds))
	}
	for i, stream := range backend.streams {
		if _, _, closed := stream.counts(); closed != 1 {
			t.Errorf("expected stream %d closed once, got %d", i, closed)
		}
	}

	// end-of-stream callbacks racing StopAll must not produce finish events
	for _, cb := range backend.callbacks {
		out := make([]byte, 64*bytesPerFrame)
		cb(out, 64)
	}
	engine.queue.flush()

	if got := sink.finishedCount(); got != 0 {
		t.Errorf("expected no finish notifications after StopAll, got %d", got)
	}
	if got := len(sink.progressed); got != 0 {
		t.Errorf("expected no progress notifications after StopAll, got %d", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	backend := &fakeBackend{devices: testDevices()}
	engine := newTestEngine(t, backend, nil)

	playing, err := engine.Play(Sound{Path: "test.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	paused, err := engine.Pause(playing.ID)
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !paused.Paused {
		t.Error("expected snapshot to be marked paused")
	}
	if _, stopped, _ := backend.streams[0].counts(); stopped != 1 {
		t.Errorf("expected stream stopped once, got %d", stopped)
	}

	// pausing again must not stop the stream a second time
	if _, err := engine.Pause(playing.ID); err != nil {
		t.Fatalf("second pause failed: %v", err)
	}
	if _, stopped, _ := backend.streams[0].counts(); stopped != 1 {
		t.Errorf("expected stream still stopped once, got %d", stopped)
	}

	resumed, err := engine.Resume(playing.ID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Paused {
		t.Error("expected snapshot to no longer be paused")
	}
	if resumed.ReadFrames != paused.ReadFrames {
		t.Errorf("expected read position unchanged across pause/resume, got %d != %d",
			resumed.ReadFrames, paused.ReadFrames)
	}
	if started, _, _ := backend.streams[0].counts(); started != 2 {
		t.Errorf("expected stream started twice, got %d", started)
	}
}

func TestPauseUnknownSound(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	if _, err := engine.Pause(42); !errors.Is(err, ErrSoundNotFound) {
		t.Errorf("expected ErrSoundNotFound, got %v", err)
	}
	if _, err := engine.Resume(42); !errors.Is(err, ErrSoundNotFound) {
		t.Errorf("expected ErrSoundNotFound, got %v", err)
	}
	if _, err := engine.Seek(42, 0); !errors.Is(err, ErrSoundNotFound) {
		t.Errorf("expected ErrSoundNotFound, got %v", err)
	}
}

func TestSeekReturnsImmediateSnapshot(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	// 441000 frames at 44100 Hz = 10000 ms
	playing, err := engine.Play(Sound{Path: "test.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	seeked, err := engine.Seek(playing.ID, 2500)
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}

	if seeked.SeekTo != 110250 {
		t.Errorf("expected seek target 110250 frames, got %d", seeked.SeekTo)
	}
	if !seeked.ShouldSeek {
		t.Error("expected the seek to be pending")
	}
	if seeked.ReadInMs != 2500 {
		t.Errorf("expected snapshot read position 2500 ms, got %d", seeked.ReadInMs)
	}
	if seeked.ReadFrames != 110250 {
		t.Errorf("expected snapshot read frames 110250, got %d", seeked.ReadFrames)
	}
}

func TestSeekClampsToLength(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	playing, err := engine.Play(Sound{Path: "test.wav"}, nil)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}

	seeked, err := engine.Seek(playing.ID, 99999999)
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if seeked.SeekTo > seeked.Length {
		t.Errorf("expected seek target clamped to %d, got %d", seeked.Length, seeked.SeekTo)
	}
}

func TestGetVolumeUnknownDevice(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	if volume := engine.GetVolume("No Such Device"); volume != 1.0 {
		t.Errorf("expected volume 1.0 for unknown device, got %f", volume)
	}
}

func TestSetVolume(t *testing.T) {
	engine := newTestEngine(t, &fakeBackend{devices: testDevices()}, nil)

	if err := engine.SetVolume("Speakers", 0.5); err != nil {
		t.Fatalf("set volume failed: %v", err)
	}
	if volume := engine.GetVolume("Speakers"); volume != 0.5 {
		t.Errorf("expected volume 0.5, got %f", volume)
	}

	// negative volumes clamp to silence
	if err := engine.SetVolume("Speakers", -3); err != nil {
		t.Fatalf("set volume failed: %v", err)
	}
	if volume := engine.GetVolume("Speakers"); volume != 0 {
		t.Errorf("expected volume 0, got %f", volume)
	}

	if err := engine.SetVolume("No Such Device", 0.5); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestEnumerationFailureIsNotFatal(t *testing.T) {
	backend := &fakeBackend{devErr: errors.New("no audio subsystem")}
	engine := newTestEngine(t, backend, nil)

	if devices := engine.Devices(); len(devices) != 0 {
		t.Errorf("expected no devices, got %d", len(devices))
	}

	// playback still works, falling back to the platform default device
	if _, err := engine.Play(Sound{Path: "test.wav"}, nil); err != nil {
		t.Fatalf("expected play to succeed without enumerated devices: %v", err)
	}
}
