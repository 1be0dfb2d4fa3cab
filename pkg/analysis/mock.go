package analysis

import (
	"context"
	"sync"
	"time"

	"coachsync-server/pkg/coach"
)

// MockAnalyzer implements coach.Analyzer for tests. It records requests
// and replays scripted results, with an optional delay and error.
type MockAnalyzer struct {
	mu       sync.Mutex
	results  []coach.AnalysisResult
	err      error
	delay    time.Duration
	requests []coach.AnalysisRequest
}

// NewMockAnalyzer creates a mock analyzer with no scripted behavior; by
// default it answers with a rule-based coaching tip.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

// QueueResult appends a scripted result, consumed in FIFO order.
func (m *MockAnalyzer) QueueResult(result coach.AnalysisResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

// SetError makes every subsequent call fail with err.
func (m *MockAnalyzer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every subsequent call wait before answering.
func (m *MockAnalyzer) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// Requests returns a copy of every request received so far.
func (m *MockAnalyzer) Requests() []coach.AnalysisRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]coach.AnalysisRequest(nil), m.requests...)
}

// CallCount returns how many times Analyze was invoked.
func (m *MockAnalyzer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockAnalyzer) Analyze(ctx context.Context, req coach.AnalysisRequest) (coach.AnalysisResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	delay := m.delay
	err := m.err
	var scripted *coach.AnalysisResult
	if len(m.results) > 0 {
		scripted = &m.results[0]
		m.results = m.results[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return coach.AnalysisResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return coach.AnalysisResult{}, err
	}
	if scripted != nil {
		return *scripted, nil
	}

	return coach.AnalysisResult{
		TalkListenRatio: coach.TalkListenRatio{User: req.UserSpeakingTime, Others: req.TotalSpeakingTime - req.UserSpeakingTime},
		Interruptions:   coach.InterruptionCount{User: req.UserInterruptionCount, Others: req.OtherInterruptionCount},
		Analysis:        RuleBasedTip(req.UserInterruptionCount, req.OtherInterruptionCount),
	}, nil
}

// RuleBasedTip derives a deterministic coaching tip from interruption
// counts. Used as the mock's default answer.
func RuleBasedTip(userInterruptions, otherInterruptions int) string {
	switch {
	case userInterruptions > otherInterruptions+2:
		return "It seems you're interrupting more often than you're being interrupted. Try to be more mindful of giving others space to speak."
	case otherInterruptions > userInterruptions+2:
		return "You're being interrupted quite frequently. Try using clearer, more assertive phrasing and maintaining a steady speaking volume."
	default:
		return "Your interruption patterns appear balanced. Keep up the great work in active listening and respectful turn-taking!"
	}
}
