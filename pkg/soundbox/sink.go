package soundbox

// EventSink receives playback lifecycle events, typically implemented by a
// UI layer. OnSoundPlayed fires synchronously on the thread that called
// Engine.Play; OnSoundProgressed and OnSoundFinished are always delivered
// from the engine's task worker, never from the real-time audio thread.
type EventSink interface {
	OnSoundPlayed(sound PlayingSound)
	OnSoundProgressed(sound PlayingSound)
	OnSoundFinished(sound PlayingSound)
}
