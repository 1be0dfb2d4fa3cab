package coach

import "time"

// Party identifies which side of the conversation an observation belongs to.
type Party string

const (
	PartyUser   Party = "user"
	PartyOthers Party = "others"
)

// Valid returns true when the party is one of the two known sides.
func (p Party) Valid() bool {
	return p == PartyUser || p == PartyOthers
}

// EmotionLabel classifies the emotional temperature of a conversation sample.
type EmotionLabel string

const (
	EmotionPositive EmotionLabel = "positive"
	EmotionNegative EmotionLabel = "negative"
	EmotionNeutral  EmotionLabel = "neutral"
	EmotionTense    EmotionLabel = "tense"
)

// Valid returns true when the label is one of the known emotion classes.
func (l EmotionLabel) Valid() bool {
	switch l {
	case EmotionPositive, EmotionNegative, EmotionNeutral, EmotionTense:
		return true
	}
	return false
}

// EventType discriminates observation event variants.
type EventType string

const (
	EventTranscriptDelta  EventType = "transcript_delta"
	EventSpeakerTimeDelta EventType = "speaker_time_delta"
	EventInterruptionTick EventType = "interruption_tick"
	EventEmotionSample    EventType = "emotion_sample"
)

// ObservationEvent is the unit of input to the aggregator. Exactly one
// variant is populated, selected by Type; the remaining fields are zero.
type ObservationEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// TranscriptDelta
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`

	// SpeakerTimeDelta and InterruptionTick
	Party   Party   `json:"party,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`

	// EmotionSample
	Emotion   EmotionLabel `json:"emotionalTemperature,omitempty"`
	AtSeconds float64      `json:"atSeconds,omitempty"`
}

// NewTranscriptDelta builds a transcript observation. Interim deltas
// (isFinal=false) are display-only and never folded into the persisted
// transcript.
func NewTranscriptDelta(text string, isFinal bool) ObservationEvent {
	return ObservationEvent{Type: EventTranscriptDelta, Text: text, IsFinal: isFinal, Timestamp: time.Now()}
}

// NewSpeakerTimeDelta builds a speaking-time observation for a party.
func NewSpeakerTimeDelta(party Party, seconds float64) ObservationEvent {
	return ObservationEvent{Type: EventSpeakerTimeDelta, Party: party, Seconds: seconds, Timestamp: time.Now()}
}

// NewInterruptionTick builds a single-interruption observation for a party.
func NewInterruptionTick(party Party) ObservationEvent {
	return ObservationEvent{Type: EventInterruptionTick, Party: party, Timestamp: time.Now()}
}

// NewEmotionSample builds an emotion observation at a session-relative time.
func NewEmotionSample(label EmotionLabel, atSeconds float64) ObservationEvent {
	return ObservationEvent{Type: EventEmotionSample, Emotion: label, AtSeconds: atSeconds, Timestamp: time.Now()}
}

// TalkListenRatio holds cumulative speaking seconds per party. The raw
// seconds are stored rather than a precomputed ratio; any displayed ratio
// is a derived view.
type TalkListenRatio struct {
	User   float64 `json:"user"`
	Others float64 `json:"others"`
}

// InterruptionCount holds cumulative interruption tallies per party.
type InterruptionCount struct {
	User   int `json:"user"`
	Others int `json:"others"`
}

// EmotionPoint is one entry of the bounded emotion history.
type EmotionPoint struct {
	Time                 float64      `json:"time"`
	EmotionalTemperature EmotionLabel `json:"emotionalTemperature"`
}

// maxEmotionHistory bounds the emotion history; oldest entries are evicted first.
const maxEmotionHistory = 20

// Aggregate is the cumulative derived-metrics record for one session.
type Aggregate struct {
	IsLinked        bool              `json:"isLinked"`
	IsRecording     bool              `json:"isRecording"`
	TalkListenRatio TalkListenRatio   `json:"talkListenRatio"`
	Interruptions   InterruptionCount `json:"interruptions"`
	EmotionHistory  []EmotionPoint    `json:"emotionHistory,omitempty"`
	Transcription   string            `json:"transcription"`
	Analysis        string            `json:"analysis"`
}

// NewAggregate returns a zeroed aggregate for a freshly observed session.
func NewAggregate() *Aggregate {
	return &Aggregate{}
}

// Clone returns a deep copy of the aggregate.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	clone := *a
	if a.EmotionHistory != nil {
		clone.EmotionHistory = make([]EmotionPoint, len(a.EmotionHistory))
		copy(clone.EmotionHistory, a.EmotionHistory)
	}
	return &clone
}

// TotalSpeakingTime returns the combined cumulative speaking seconds.
func (a *Aggregate) TotalSpeakingTime() float64 {
	return a.TalkListenRatio.User + a.TalkListenRatio.Others
}

// ratioEpsilon guards the derived talk/listen ratio against division by zero.
const ratioEpsilon = 0.001

// DerivedRatio returns user speaking time over others', for display only.
// It is never persisted.
func (a *Aggregate) DerivedRatio() float64 {
	others := a.TalkListenRatio.Others
	if others < ratioEpsilon {
		others = ratioEpsilon
	}
	return a.TalkListenRatio.User / others
}
