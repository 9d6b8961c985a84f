package soundbox

import "math"

const (
	// all hardware streams are opened as interleaved stereo S16LE,
	// matching what the decoders produce
	outputChannels    = 2
	bytesPerFrame     = outputChannels * 2
	defaultProgressMs = 500
)

// newDataCallback builds the buffer-fill callback for one stream. It runs on
// the hardware audio thread: no blocking, no unpredictable allocation, and
// never a direct call into the EventSink. The stream pointer is resolved
// lazily because the stream handle only exists once OpenStream returns.
func (e *Engine) newDataCallback(decoder Decoder, deviceName string, stream *Stream) DataCallback {
	var scratch [][2]float64

	return func(out []byte, frameCount uint32) {
		if decoder == nil {
			return
		}

		if int(frameCount) > len(scratch) {
			scratch = make([][2]float64, frameCount)
		}

		// read fresh each invocation so volume changes take effect on the
		// next buffer
		gain := e.GetVolume(deviceName)

		read := decoder.ReadFrames(scratch[:frameCount])
		writeFramesS16LE(out, scratch[:read], gain)

		s := *stream
		sound, ok := e.getPlayingSound(s)

		if ok && sound.ShouldSeek {
			// the decoder is only ever seeked from this thread, between reads
			decoder.Seek(sound.SeekTo)
			e.onSoundSeeked(s, sound.SeekTo)
		}

		if read > 0 {
			e.onSoundProgressed(s, read)
			return
		}

		// end of stream
		if ok && sound.Repeat {
			decoder.Seek(0)
			e.onSoundSeeked(s, 0)
			return
		}

		// repeated end-of-stream callbacks before teardown completes must not
		// enqueue duplicate finish tasks; the queue de-duplicates per stream
		e.queue.push(taskKey{stream: s, kind: taskFinish}, func() {
			e.onFinished(s)
		})
	}
}

// onSoundProgressed advances the session's read position and schedules a
// throttled progress notification.
func (e *Engine) onSoundProgressed(stream Stream, frames uint64) {
	e.soundsLock.Lock()
	sound, ok := e.sounds[stream]
	if !ok {
		e.soundsLock.Unlock()
		return
	}

	sound.ReadFrames += frames
	sound.buffer += frames

	var snapshot *PlayingSound
	if sound.buffer > e.progressThresholdFrames(sound.SampleRate) {
		sound.ReadInMs = progressMs(sound.ReadFrames, sound.Length, sound.LengthInMs)
		sound.buffer = 0

		copied := sound
		snapshot = &copied
	}

	e.sounds[stream] = sound
	e.soundsLock.Unlock()

	if snapshot != nil {
		e.queue.push(taskKey{stream: stream, kind: taskProgress}, func() {
			e.notifyProgressed(*snapshot)
		})
	}
}

// onSoundSeeked records a completed decoder seek, clearing the pending flag
// and snapping the read position to the target frame.
func (e *Engine) onSoundSeeked(stream Stream, frame uint64) {
	e.soundsLock.Lock()
	defer e.soundsLock.Unlock()

	sound, ok := e.sounds[stream]
	if !ok {
		return
	}

	sound.ShouldSeek = false
	sound.ReadFrames = frame
	sound.ReadInMs = progressMs(frame, sound.Length, sound.LengthInMs)
	e.sounds[stream] = sound
}

// onFinished runs on the task worker once a stream signals end of stream.
// The registry entry is removed first, under lock, so concurrent lookups
// never observe a half-torn-down session; an explicit Stop that raced us
// simply leaves nothing to act on.
func (e *Engine) onFinished(stream Stream) {
	e.soundsLock.Lock()
	sound, ok := e.sounds[stream]
	if !ok {
		e.soundsLock.Unlock()
		e.logger.Debug("Sound finished but is no longer playing")
		return
	}
	delete(e.sounds, stream)
	e.soundsLock.Unlock()

	e.teardown(sound)

	e.logger.Debugw("Sound finished", "sound", sound)
	e.notifyFinished(sound)
}

// progressThresholdFrames returns how many frames to accumulate between
// progress notifications, half a second of audio by default.
func (e *Engine) progressThresholdFrames(sampleRate uint32) uint64 {
	intervalMs := uint64(defaultProgressMs)
	if e.config != nil && e.config.ProgressIntervalMs > 0 {
		intervalMs = uint64(e.config.ProgressIntervalMs)
	}
	return uint64(sampleRate) * intervalMs / 1000
}

// writeFramesS16LE quantizes normalized stereo frames into interleaved
// signed 16-bit little-endian output, applying the playback gain. Any
// remaining space in out is zero-filled so an underrun plays silence.
func writeFramesS16LE(out []byte, samples [][2]float64, gain float32) {
	for i, frame := range samples {
		for ch := 0; ch < outputChannels; ch++ {
			value := frame[ch] * float64(gain)
			if value > 1 {
				value = 1
			} else if value < -1 {
				value = -1
			}

			quantized := int16(value * math.MaxInt16)
			offset := i*bytesPerFrame + ch*2
			out[offset] = byte(quantized)
			out[offset+1] = byte(quantized >> 8)
		}
	}

	for i := len(samples) * bytesPerFrame; i < len(out); i++ {
		out[i] = 0
	}
}
