package coach

import (
	"context"
	"strings"
	"time"
)

// DefaultQuietWindow is the inactivity window after the last qualifying
// event before a coaching analysis is requested.
const DefaultQuietWindow = 3 * time.Second

// DefaultAnalysis is returned without calling the external service when the
// accumulated transcript is empty.
const DefaultAnalysis = "Start speaking to get feedback."

// AnalysisRequest carries the cumulative-to-date session material to the
// external analysis service. All values cover the whole conversation, not
// the latest fragment, so the coaching suggestion reflects full context.
type AnalysisRequest struct {
	Transcript             string  `json:"transcript"`
	UserSpeakingTime       float64 `json:"userSpeakingTime"`
	TotalSpeakingTime      float64 `json:"totalSpeakingTime"`
	UserInterruptionCount  int     `json:"userInterruptionCount"`
	OtherInterruptionCount int     `json:"otherInterruptionCount"`
}

// AnalysisResult is the structured coaching object returned by the
// external analysis service.
type AnalysisResult struct {
	TalkListenRatio TalkListenRatio   `json:"talkListenRatio"`
	Interruptions   InterruptionCount `json:"interruptions"`
	Analysis        string            `json:"analysis"`
}

// Analyzer abstracts the external AI completion service. Implementations
// live in pkg/analysis; the coordinator holds at most one in-flight call
// per session and never retries within a trigger firing.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
}

// TriggerPolicy decides when accumulated material warrants a fresh coaching
// analysis. The quiet timer debounces micro-updates so the external service
// is not flooded; a stop always forces one final pass.
type TriggerPolicy struct {
	QuietWindow time.Duration
}

// NewTriggerPolicy returns a policy with the given inactivity window,
// falling back to the default when zero or negative.
func NewTriggerPolicy(quietWindow time.Duration) TriggerPolicy {
	if quietWindow <= 0 {
		quietWindow = DefaultQuietWindow
	}
	return TriggerPolicy{QuietWindow: quietWindow}
}

// Qualifies reports whether the event resets the quiet timer. Only
// finalized transcript deltas and interruption ticks count; interim
// transcript text, speaker-time deltas and emotion samples do not.
func (p TriggerPolicy) Qualifies(event ObservationEvent) bool {
	switch event.Type {
	case EventTranscriptDelta:
		return event.IsFinal
	case EventInterruptionTick:
		return true
	}
	return false
}

// ShouldCall reports whether the aggregate holds enough material to invoke
// the external service. An empty transcript short-circuits to the
// deterministic default instead.
func (p TriggerPolicy) ShouldCall(agg *Aggregate) bool {
	return strings.TrimSpace(agg.Transcription) != ""
}

// BuildRequest assembles the cumulative analysis payload for the aggregate.
func (p TriggerPolicy) BuildRequest(agg *Aggregate) AnalysisRequest {
	return AnalysisRequest{
		Transcript:             agg.Transcription,
		UserSpeakingTime:       agg.TalkListenRatio.User,
		TotalSpeakingTime:      agg.TotalSpeakingTime(),
		UserInterruptionCount:  agg.Interruptions.User,
		OtherInterruptionCount: agg.Interruptions.Others,
	}
}

// EmptyResult is the deterministic result for sessions with no transcript.
func (p TriggerPolicy) EmptyResult() AnalysisResult {
	return AnalysisResult{
		TalkListenRatio: TalkListenRatio{},
		Interruptions:   InterruptionCount{},
		Analysis:        DefaultAnalysis,
	}
}
