package soundbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// Sound identifies a playable source file along with its display metadata.
type Sound struct {
	Name   string
	Path   string
	Title  string
	Artist string

	// Repeat makes the sound restart from the beginning instead of
	// finishing when the stream is exhausted.
	Repeat bool
}

// NewSound builds a Sound for the given file path, probing its tags for
// title and artist metadata. The probe is best-effort; files without tags
// (or files that don't exist yet) simply fall back to the base filename.
func NewSound(path string) Sound {
	sound := Sound{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	f, err := os.Open(path)
	if err != nil {
		return sound
	}
	defer f.Close()

	if metadata, err := tag.ReadFrom(f); err == nil {
		sound.Title = metadata.Title()
		sound.Artist = metadata.Artist()
	}

	return sound
}

// PlayingSound captures one in-flight sound's identity, timing and transient
// playback flags. The Engine stores these by value in its registry; every
// value handed to callers is a snapshot, never a live registry entry.
type PlayingSound struct {
	// ID is unique for the process lifetime, assigned monotonically.
	ID uint32

	Sound  Sound
	Device AudioDevice

	Length     uint64 // total length in PCM frames
	LengthInMs uint64
	SampleRate uint32

	ReadFrames uint64
	ReadInMs   uint64

	Repeat     bool
	Paused     bool
	ShouldSeek bool
	SeekTo     uint64

	// buffer accumulates frames read since the last progress notification,
	// used to throttle notification volume.
	buffer uint64

	// Owned platform resources. Referenced only by the registry entry and
	// torn down exclusively by the Engine.
	stream  Stream
	decoder Decoder
}

// String implements fmt.Stringer for log output.
func (ps PlayingSound) String() string {
	return fmt.Sprintf("<sound #%d: %s, %d/%d ms>", ps.ID, ps.Sound.Name, ps.ReadInMs, ps.LengthInMs)
}

// progressMs derives the elapsed milliseconds for a given frame position.
func progressMs(frames uint64, length uint64, lengthInMs uint64) uint64 {
	if length == 0 {
		return 0
	}
	return uint64(float64(frames) / float64(length) * float64(lengthInMs))
}
