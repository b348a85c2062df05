package domain

import "time"

// Phase is the Playback Controller's state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseResolving   Phase = "resolving"
	PhaseDownloading Phase = "downloading"
	PhaseLoading     Phase = "loading"
	PhasePlaying     Phase = "playing"
	PhasePaused      Phase = "paused"
	PhaseStopped     Phase = "stopped"
	PhaseErrored     Phase = "errored"
)

// PlaybackError is the user-facing description of a failure.
type PlaybackError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PlaybackState is a snapshot of the controller's state.
type PlaybackState struct {
	CurrentSourceID string         `json:"current_source_id,omitempty"`
	Phase           Phase          `json:"phase"`
	Position        time.Duration  `json:"position"`
	Duration        time.Duration  `json:"duration"`
	Download        *Progress      `json:"download,omitempty"`
	LastError       *PlaybackError `json:"last_error,omitempty"`
}

// EngineStatus is the playback status reported by the audio engine.
type EngineStatus string

const (
	EngineStatusPlaying   EngineStatus = "playing"
	EngineStatusBuffering EngineStatus = "buffering"
	EngineStatusCompleted EngineStatus = "completed"
)

// EngineEventType distinguishes engine notifications.
type EngineEventType int

const (
	EngineEventPosition EngineEventType = iota
	EngineEventDuration
	EngineEventStatus
)

// EngineEvent is emitted by the audio engine. Tag is the value passed to
// SetSource for the source the event belongs to.
type EngineEvent struct {
	Tag      uint64
	Type     EngineEventType
	Position time.Duration
	Duration time.Duration
	Status   EngineStatus
}
