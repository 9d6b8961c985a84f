package soundbox

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// malgoBackend implements Backend on top of miniaudio via malgo.
type malgoBackend struct {
	logger *zap.SugaredLogger
	ctx    *malgo.AllocatedContext
}

// NewMalgoBackend initializes a miniaudio context and returns a Backend
// backed by it.
func NewMalgoBackend(logger *zap.SugaredLogger) (Backend, error) {
	logger = logger.Named("backend")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Warnw("Failed to initialize miniaudio context", "error", err)
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}

	logger.Debug("Created miniaudio backend instance")

	return &malgoBackend{
		logger: logger,
		ctx:    ctx,
	}, nil
}

func (mb *malgoBackend) Devices() ([]AudioDevice, error) {
	infos, err := mb.ctx.Devices(malgo.Playback)
	if err != nil {
		mb.logger.Warnw("Failed to query playback devices", "error", err)
		return nil, fmt.Errorf("query playback devices: %w", err)
	}

	devices := make([]AudioDevice, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, AudioDevice{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			Volume:    1.0,
		})
	}

	return devices, nil
}

func (mb *malgoBackend) OpenStream(cfg StreamConfig, cb DataCallback) (Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = cfg.SampleRate
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = cfg.Channels
	deviceConfig.Alsa.NoMMap = 1

	if cfg.DeviceName != "" {
		id, err := mb.findDeviceID(cfg.DeviceName)
		if err != nil {
			return nil, err
		}
		deviceConfig.Playback.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			cb(pOutputSample, frameCount)
		},
	}

	device, err := malgo.InitDevice(mb.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		mb.logger.Warnw("Failed to initialize playback device",
			"device", cfg.DeviceName,
			"sampleRate", cfg.SampleRate,
			"error", err)
		return nil, fmt.Errorf("init playback device: %w", err)
	}

	return &malgoStream{device: device}, nil
}

func (mb *malgoBackend) Release() error {
	mb.logger.Debug("Releasing miniaudio backend")

	if err := mb.ctx.Uninit(); err != nil {
		mb.logger.Warnw("Failed to uninitialize miniaudio context", "error", err)
		return fmt.Errorf("uninit miniaudio context: %w", err)
	}
	mb.ctx.Free()

	return nil
}

// findDeviceID resolves a device name to its platform identifier. The device
// list is queried fresh so a recently plugged device can still be matched.
func (mb *malgoBackend) findDeviceID(name string) (*malgo.DeviceID, error) {
	infos, err := mb.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("query playback devices: %w", err)
	}

	for _, info := range infos {
		if info.Name() == name {
			id := info.ID
			return &id, nil
		}
	}

	return nil, fmt.Errorf("playback device %q: %w", name, ErrDeviceNotFound)
}

type malgoStream struct {
	device *malgo.Device
}

func (ms *malgoStream) Start() error {
	if err := ms.device.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	return nil
}

func (ms *malgoStream) Stop() error {
	if err := ms.device.Stop(); err != nil {
		return fmt.Errorf("stop playback device: %w", err)
	}
	return nil
}

func (ms *malgoStream) Close() {
	ms.device.Uninit()
}
