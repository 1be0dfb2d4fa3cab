package coach

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachsync-server/pkg/errors"
)

func applyAll(t *testing.T, agg *Aggregate, events ...ObservationEvent) *Aggregate {
	t.Helper()
	for _, event := range events {
		next, err := Apply(agg, event)
		require.NoError(t, err)
		agg = next
	}
	return agg
}

func TestApplySpeakerTimeAndInterruptions(t *testing.T) {
	agg := applyAll(t, NewAggregate(),
		NewSpeakerTimeDelta(PartyUser, 3),
		NewSpeakerTimeDelta(PartyOthers, 1),
		NewInterruptionTick(PartyUser),
	)

	assert.Equal(t, 3.0, agg.TalkListenRatio.User)
	assert.Equal(t, 1.0, agg.TalkListenRatio.Others)
	assert.Equal(t, 1, agg.Interruptions.User)
	assert.Equal(t, 0, agg.Interruptions.Others)
}

func TestApplySpeakerTimeSumsIndependentOfOrder(t *testing.T) {
	userDeltas := []float64{1.5, 0, 2.25, 0.5, 3}
	otherDeltas := []float64{0.75, 4, 0.25}

	events := make([]ObservationEvent, 0, len(userDeltas)+len(otherDeltas))
	for _, d := range userDeltas {
		events = append(events, NewSpeakerTimeDelta(PartyUser, d))
	}
	for _, d := range otherDeltas {
		events = append(events, NewSpeakerTimeDelta(PartyOthers, d))
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]ObservationEvent(nil), events...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		agg := applyAll(t, NewAggregate(), shuffled...)
		assert.InDelta(t, 7.25, agg.TalkListenRatio.User, 1e-9)
		assert.InDelta(t, 5.0, agg.TalkListenRatio.Others, 1e-9)
	}
}

func TestApplyNegativeSpeakerTimeIsInvalidAndLeavesAggregateUnchanged(t *testing.T) {
	agg := applyAll(t, NewAggregate(),
		NewSpeakerTimeDelta(PartyUser, 2),
		NewEmotionSample(EmotionPositive, 1),
	)
	before := agg.Clone()

	next, err := Apply(agg, NewSpeakerTimeDelta(PartyUser, -1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidDelta))
	assert.Same(t, agg, next)
	assert.Equal(t, before, agg)
}

func TestApplyUnknownPartyIsInvalid(t *testing.T) {
	agg := NewAggregate()

	_, err := Apply(agg, ObservationEvent{Type: EventSpeakerTimeDelta, Party: "nobody", Seconds: 1})
	assert.True(t, errors.Is(err, errors.ErrInvalidDelta))

	_, err = Apply(agg, ObservationEvent{Type: EventInterruptionTick, Party: "nobody"})
	assert.True(t, errors.Is(err, errors.ErrInvalidDelta))
}

func TestApplyUnknownEventTypeIsInvalid(t *testing.T) {
	agg := NewAggregate()
	next, err := Apply(agg, ObservationEvent{Type: "bogus"})
	assert.True(t, errors.Is(err, errors.ErrInvalidDelta))
	assert.Same(t, agg, next)
}

func TestApplyOnlyFinalTranscriptDeltasAreAppended(t *testing.T) {
	agg := applyAll(t, NewAggregate(),
		NewTranscriptDelta("hello", false),
		NewTranscriptDelta("hello th", false),
		NewTranscriptDelta("hello there", true),
		NewTranscriptDelta("how are", false),
		NewTranscriptDelta("how are you", true),
	)

	assert.Equal(t, "hello there how are you ", agg.Transcription)
}

func TestApplyInterimDeltaDoesNotAllocateNewState(t *testing.T) {
	agg := NewAggregate()
	next, err := Apply(agg, NewTranscriptDelta("partial guess", false))
	require.NoError(t, err)
	assert.Same(t, agg, next)
	assert.Empty(t, agg.Transcription)
}

func TestApplyTranscriptDeltaTrimsWhitespace(t *testing.T) {
	agg := applyAll(t, NewAggregate(),
		NewTranscriptDelta("  hello  ", true),
		NewTranscriptDelta("\tworld\n", true),
	)
	assert.Equal(t, "hello world ", agg.Transcription)
}

func TestApplyEmptyFinalTranscriptDeltaIsNoop(t *testing.T) {
	agg := NewAggregate()
	next, err := Apply(agg, NewTranscriptDelta("   ", true))
	require.NoError(t, err)
	assert.Same(t, agg, next)
}

func TestApplyEmotionHistoryIsBoundedToTwentyMostRecent(t *testing.T) {
	agg := NewAggregate()
	for i := 1; i <= 25; i++ {
		next, err := Apply(agg, NewEmotionSample(EmotionNeutral, float64(i)))
		require.NoError(t, err)
		agg = next
		require.LessOrEqual(t, len(agg.EmotionHistory), 20)
	}

	require.Len(t, agg.EmotionHistory, 20)
	// Samples 1-5 evicted; the 6th sample sent is now first.
	assert.Equal(t, 6.0, agg.EmotionHistory[0].Time)
	assert.Equal(t, 25.0, agg.EmotionHistory[19].Time)

	for i := 1; i < len(agg.EmotionHistory); i++ {
		assert.Less(t, agg.EmotionHistory[i-1].Time, agg.EmotionHistory[i].Time)
	}
}

func TestApplyUnknownEmotionLabelIsInvalid(t *testing.T) {
	_, err := Apply(NewAggregate(), ObservationEvent{Type: EventEmotionSample, Emotion: "ecstatic"})
	assert.True(t, errors.Is(err, errors.ErrInvalidDelta))
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	agg := applyAll(t, NewAggregate(), NewSpeakerTimeDelta(PartyUser, 1))
	before := agg.Clone()

	_, err := Apply(agg, NewSpeakerTimeDelta(PartyUser, 5))
	require.NoError(t, err)
	assert.Equal(t, before, agg)
}

func TestMergeAnalysisOverwritesAnalysisOwnedFields(t *testing.T) {
	agg := applyAll(t, NewAggregate(),
		NewSpeakerTimeDelta(PartyUser, 10),
		NewInterruptionTick(PartyOthers),
		NewTranscriptDelta("so as I was saying", true),
	)

	merged := MergeAnalysis(agg, AnalysisResult{
		TalkListenRatio: TalkListenRatio{User: 8, Others: 4},
		Interruptions:   InterruptionCount{User: 2, Others: 1},
		Analysis:        "Give others more room to finish.",
	})

	assert.Equal(t, TalkListenRatio{User: 8, Others: 4}, merged.TalkListenRatio)
	assert.Equal(t, InterruptionCount{User: 2, Others: 1}, merged.Interruptions)
	assert.Equal(t, "Give others more room to finish.", merged.Analysis)
	// The transcript is not analysis-owned.
	assert.Equal(t, "so as I was saying ", merged.Transcription)
}

func TestDerivedRatioGuardsZeroOthers(t *testing.T) {
	agg := applyAll(t, NewAggregate(), NewSpeakerTimeDelta(PartyUser, 5))
	assert.Greater(t, agg.DerivedRatio(), 0.0)

	agg = applyAll(t, agg, NewSpeakerTimeDelta(PartyOthers, 10))
	assert.InDelta(t, 0.5, agg.DerivedRatio(), 1e-9)
}
