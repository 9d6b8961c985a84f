package soundbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"github.com/thoas/go-funk"
)

// supportedExtensions lists the file formats the engine can decode.
var supportedExtensions = []string{".mp3", ".flac", ".wav"}

// Decoder produces seekable PCM audio from a source file. Frames are
// normalized stereo samples; ReadFrames returning 0 means end of stream.
type Decoder interface {
	// SampleRate returns the stream's sample rate in Hz.
	SampleRate() uint32

	// Length returns the total length of the stream in PCM frames.
	Length() uint64

	// ReadFrames decodes up to len(samples) frames into samples and returns
	// how many frames were actually produced.
	ReadFrames(samples [][2]float64) uint64

	// Seek repositions the stream to the given PCM frame.
	Seek(frame uint64) error

	// Close releases the decoder and its underlying file.
	Close() error
}

// decoderOpenFunc matches openDecoder and exists so tests can substitute
// a fake decoding capability.
type decoderOpenFunc func(path string) (Decoder, error)

// openDecoder opens a decoder for the given file, dispatching on the file
// extension.
func openDecoder(path string) (Decoder, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !funk.ContainsString(supportedExtensions, ext) {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrDecode, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)

	switch ext {
	case ".mp3":
		stream, format, err = mp3.Decode(f)
	case ".flac":
		stream, format, err = flac.Decode(f)
	case ".wav":
		stream, format, err = wav.Decode(f)
	}

	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &beepDecoder{stream: stream, format: format}, nil
}

// beepDecoder adapts a beep stream to the Decoder interface. beep decoders
// normalize all formats to stereo float64 frames, which the real-time
// callback quantizes to the stream's output format.
type beepDecoder struct {
	stream beep.StreamSeekCloser
	format beep.Format
}

func (d *beepDecoder) SampleRate() uint32 {
	return uint32(d.format.SampleRate)
}

func (d *beepDecoder) Length() uint64 {
	length := d.stream.Len()
	if length < 0 {
		return 0
	}
	return uint64(length)
}

func (d *beepDecoder) ReadFrames(samples [][2]float64) uint64 {
	n, _ := d.stream.Stream(samples)
	return uint64(n)
}

func (d *beepDecoder) Seek(frame uint64) error {
	if err := d.stream.Seek(int(frame)); err != nil {
		return fmt.Errorf("seek to frame %d: %w", frame, err)
	}
	return nil
}

func (d *beepDecoder) Close() error {
	return d.stream.Close()
}
