package coach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerPolicyDefaults(t *testing.T) {
	policy := NewTriggerPolicy(0)
	assert.Equal(t, DefaultQuietWindow, policy.QuietWindow)

	policy = NewTriggerPolicy(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, policy.QuietWindow)
}

func TestTriggerQualifyingEvents(t *testing.T) {
	policy := NewTriggerPolicy(0)

	tests := []struct {
		name      string
		event     ObservationEvent
		qualifies bool
	}{
		{"final transcript", NewTranscriptDelta("done", true), true},
		{"interim transcript", NewTranscriptDelta("don", false), false},
		{"interruption", NewInterruptionTick(PartyUser), true},
		{"speaker time", NewSpeakerTimeDelta(PartyUser, 1), false},
		{"emotion sample", NewEmotionSample(EmotionTense, 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.qualifies, policy.Qualifies(tt.event))
		})
	}
}

func TestTriggerShouldCallRequiresNonBlankTranscript(t *testing.T) {
	policy := NewTriggerPolicy(0)

	agg := NewAggregate()
	assert.False(t, policy.ShouldCall(agg))

	agg.Transcription = "   "
	assert.False(t, policy.ShouldCall(agg))

	agg.Transcription = "hello "
	assert.True(t, policy.ShouldCall(agg))
}

func TestTriggerBuildRequestIsCumulative(t *testing.T) {
	policy := NewTriggerPolicy(0)
	agg := &Aggregate{
		TalkListenRatio: TalkListenRatio{User: 12.5, Others: 7.5},
		Interruptions:   InterruptionCount{User: 3, Others: 1},
		Transcription:   "the whole conversation so far ",
	}

	req := policy.BuildRequest(agg)
	assert.Equal(t, "the whole conversation so far ", req.Transcript)
	assert.Equal(t, 12.5, req.UserSpeakingTime)
	assert.Equal(t, 20.0, req.TotalSpeakingTime)
	assert.Equal(t, 3, req.UserInterruptionCount)
	assert.Equal(t, 1, req.OtherInterruptionCount)
}

func TestTriggerEmptyResultIsDeterministicDefault(t *testing.T) {
	policy := NewTriggerPolicy(0)

	result := policy.EmptyResult()
	assert.Equal(t, AnalysisResult{
		TalkListenRatio: TalkListenRatio{User: 0, Others: 0},
		Interruptions:   InterruptionCount{User: 0, Others: 0},
		Analysis:        "Start speaking to get feedback.",
	}, result)
}
