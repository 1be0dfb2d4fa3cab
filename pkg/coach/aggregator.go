package coach

import (
	"strings"

	"coachsync-server/pkg/errors"
)

// Apply folds a single observation event into the aggregate and returns the
// resulting state. It is pure: the input aggregate is never mutated, and on
// any error the returned aggregate is the input unchanged.
//
// Interim transcript deltas (isFinal=false) are informational only; folding
// them into the persisted transcript would duplicate text on repeated
// partial updates, so only finalized deltas are appended.
func Apply(agg *Aggregate, event ObservationEvent) (*Aggregate, error) {
	if agg == nil {
		agg = NewAggregate()
	}

	switch event.Type {
	case EventTranscriptDelta:
		if !event.IsFinal {
			return agg, nil
		}
		text := strings.TrimSpace(event.Text)
		if text == "" {
			return agg, nil
		}
		next := agg.Clone()
		next.Transcription += text + " "
		return next, nil

	case EventSpeakerTimeDelta:
		if !event.Party.Valid() {
			return agg, errors.NewInvalidDelta("unknown party", map[string]interface{}{
				"party": string(event.Party),
			})
		}
		if event.Seconds < 0 {
			return agg, errors.NewInvalidDelta("negative speaking-time delta", map[string]interface{}{
				"party":   string(event.Party),
				"seconds": event.Seconds,
			})
		}
		next := agg.Clone()
		switch event.Party {
		case PartyUser:
			next.TalkListenRatio.User += event.Seconds
		case PartyOthers:
			next.TalkListenRatio.Others += event.Seconds
		}
		return next, nil

	case EventInterruptionTick:
		if !event.Party.Valid() {
			return agg, errors.NewInvalidDelta("unknown party", map[string]interface{}{
				"party": string(event.Party),
			})
		}
		next := agg.Clone()
		switch event.Party {
		case PartyUser:
			next.Interruptions.User++
		case PartyOthers:
			next.Interruptions.Others++
		}
		return next, nil

	case EventEmotionSample:
		if !event.Emotion.Valid() {
			return agg, errors.NewInvalidDelta("unknown emotion label", map[string]interface{}{
				"label": string(event.Emotion),
			})
		}
		next := agg.Clone()
		next.EmotionHistory = append(next.EmotionHistory, EmotionPoint{
			Time:                 event.AtSeconds,
			EmotionalTemperature: event.Emotion,
		})
		if len(next.EmotionHistory) > maxEmotionHistory {
			next.EmotionHistory = next.EmotionHistory[len(next.EmotionHistory)-maxEmotionHistory:]
		}
		return next, nil
	}

	return agg, errors.NewInvalidDelta("unknown event type", map[string]interface{}{
		"type": string(event.Type),
	})
}

// MergeAnalysis overwrites the analysis-owned fields of the aggregate with
// the result of an external coaching analysis. The external service is
// authoritative for its own estimate once invoked; the locally accumulated
// counters are a fallback display until an estimate lands.
func MergeAnalysis(agg *Aggregate, result AnalysisResult) *Aggregate {
	next := agg.Clone()
	next.TalkListenRatio = result.TalkListenRatio
	next.Interruptions = result.Interruptions
	next.Analysis = result.Analysis
	return next
}
