package turn

// PlaybackEvent is a lifecycle notification from a [Playback].
type PlaybackEvent int

const (
	// PlaybackStarted reports that audio began. Informational only.
	PlaybackStarted PlaybackEvent = iota

	// PlaybackFinished reports that the sentence played to the end.
	PlaybackFinished

	// PlaybackStopped reports that playback ended because Stop was called.
	PlaybackStopped

	// PlaybackFailed reports that the driver gave up after accepting the
	// sentence. It is handled like a completion.
	PlaybackFailed
)

// String returns the wire name of the event.
func (e PlaybackEvent) String() string {
	switch e {
	case PlaybackStarted:
		return "started"
	case PlaybackFinished:
		return "finished"
	case PlaybackStopped:
		return "stopped"
	case PlaybackFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends the playback.
func (e PlaybackEvent) Terminal() bool {
	return e != PlaybackStarted
}

// Voice selects how sentences are synthesized.
type Voice struct {
	// Name is the voice or profile identifier understood by the driver.
	Name string

	// Language is a BCP-47 tag such as "ru-RU".
	Language string

	// Progressive asks the driver to start audio before synthesis of the
	// whole sentence has finished.
	Progressive bool
}

// Player is the playback driver.
type Player interface {
	// Start begins speaking text. notify may be called from any goroutine,
	// any number of times, until a terminal event. A non-nil error means no
	// playback was started and notify will not be called.
	Start(text string, voice Voice, notify func(PlaybackEvent)) (Playback, error)
}

// Playback is the handle of one live sentence.
type Playback interface {
	// ID identifies the playback in logs and on the wire.
	ID() string

	// Stop interrupts the playback. It must be safe to call repeatedly and
	// after the playback has already finished.
	Stop()
}
