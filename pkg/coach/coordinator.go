package coach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/errors"
	"coachsync-server/pkg/metrics"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLinked    Phase = "linked"
	PhaseRecording Phase = "recording"
	PhaseAnalyzing Phase = "analyzing"
	PhaseStopped   Phase = "stopped"
)

// Store abstracts the external sync/persistence service. Implementations
// live in pkg/store. Only fully-computed snapshots or field values are ever
// written, never deltas, so duplicate delivery on the watch side is safe.
type Store interface {
	Create(ctx context.Context, sessionID string, agg *Aggregate) error
	Save(ctx context.Context, sessionID string, agg *Aggregate) error
	Patch(ctx context.Context, sessionID string, patch AggregatePatch) error
	Read(ctx context.Context, sessionID string) (*Aggregate, error)
}

// AggregatePatch is a partial-field update of a session record. Nil fields
// are left untouched; present fields overwrite (last-write-wins per field).
type AggregatePatch struct {
	IsLinked        *bool              `json:"isLinked,omitempty"`
	IsRecording     *bool              `json:"isRecording,omitempty"`
	TalkListenRatio *TalkListenRatio   `json:"talkListenRatio,omitempty"`
	Interruptions   *InterruptionCount `json:"interruptions,omitempty"`
	EmotionHistory  *[]EmotionPoint    `json:"emotionHistory,omitempty"`
	Transcription   *string            `json:"transcription,omitempty"`
	Analysis        *string            `json:"analysis,omitempty"`
}

// ApplyTo merges the patch into a copy of the aggregate, overwriting only
// the fields present in the patch. Consumers of out-of-order partial
// snapshots rely on this field-wise overwrite semantic.
func (p AggregatePatch) ApplyTo(agg *Aggregate) *Aggregate {
	next := agg.Clone()
	if next == nil {
		next = NewAggregate()
	}
	if p.IsLinked != nil {
		next.IsLinked = *p.IsLinked
	}
	if p.IsRecording != nil {
		next.IsRecording = *p.IsRecording
	}
	if p.TalkListenRatio != nil {
		next.TalkListenRatio = *p.TalkListenRatio
	}
	if p.Interruptions != nil {
		next.Interruptions = *p.Interruptions
	}
	if p.EmotionHistory != nil {
		history := make([]EmotionPoint, len(*p.EmotionHistory))
		copy(history, *p.EmotionHistory)
		next.EmotionHistory = history
	}
	if p.Transcription != nil {
		next.Transcription = *p.Transcription
	}
	if p.Analysis != nil {
		next.Analysis = *p.Analysis
	}
	return next
}

// Subscriber receives aggregate snapshots whenever a session changes.
type Subscriber interface {
	OnAggregate(sessionID string, snapshot *Aggregate)
}

// CoordinatorConfig tunes the session coordinator.
type CoordinatorConfig struct {
	// QuietWindow is the inactivity window before an analysis fires.
	QuietWindow time.Duration

	// AnalysisTimeout bounds each external analysis call. Past it the
	// call is treated as a failure.
	AnalysisTimeout time.Duration
}

// DefaultAnalysisTimeout bounds a single external analysis call.
const DefaultAnalysisTimeout = 15 * time.Second

// session is the coordinator-owned state for one session id.
type session struct {
	id         string
	agg        *Aggregate
	phase      Phase
	generation uint64
	quietTimer *time.Timer

	// storeDirty marks that the last store write failed; in-memory state
	// keeps mutating and the next successful full-snapshot write reconciles.
	storeDirty bool
}

// Coordinator owns the map from session id to aggregate state. All
// mutation goes through it; there are no ambient per-session globals.
// Events for a single session are applied in arrival order under the
// coordinator lock.
type Coordinator struct {
	logger          *logrus.Logger
	store           Store
	analyzer        Analyzer
	policy          TriggerPolicy
	analysisTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// NewCoordinator creates a session coordinator.
func NewCoordinator(logger *logrus.Logger, store Store, analyzer Analyzer, config CoordinatorConfig) *Coordinator {
	timeout := config.AnalysisTimeout
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	return &Coordinator{
		logger:          logger,
		store:           store,
		analyzer:        analyzer,
		policy:          NewTriggerPolicy(config.QuietWindow),
		analysisTimeout: timeout,
		sessions:        make(map[string]*session),
	}
}

// AddSubscriber registers a snapshot subscriber (websocket hub, AMQP
// publisher, logger).
func (c *Coordinator) AddSubscriber(sub Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, sub)
}

func (c *Coordinator) notify(sessionID string, snapshot *Aggregate) {
	c.subMu.RLock()
	subscribers := append([]Subscriber(nil), c.subscribers...)
	c.subMu.RUnlock()

	for _, sub := range subscribers {
		sub.OnAggregate(sessionID, snapshot)
	}
}

// CreateSession allocates a new session id with a zeroed aggregate and
// persists the initial record. The id is opaque; only uniqueness matters.
func (c *Coordinator) CreateSession(ctx context.Context) (string, error) {
	sessionID := uuid.NewString()
	if err := c.Register(ctx, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Register creates coordinator state for an externally generated session id.
func (c *Coordinator) Register(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return errors.Wrap(errors.ErrSessionAlreadyExists, "register session", map[string]interface{}{
			"session_id": sessionID,
		})
	}
	s := &session{
		id:    sessionID,
		agg:   NewAggregate(),
		phase: PhaseIdle,
	}
	c.sessions[sessionID] = s
	snapshot := s.agg.Clone()
	c.mu.Unlock()

	metrics.SessionsActive.Inc()
	metrics.SessionsCreated.Inc()

	if err := c.store.Create(ctx, sessionID, snapshot); err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to persist initial session record")
		c.markDirty(sessionID)
	}

	c.logger.WithField("session_id", sessionID).Info("Session created")
	return nil
}

// Link marks the capture device's first contact with the session.
func (c *Coordinator) Link(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	s, err := c.getOrLoadLocked(ctx, sessionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.phase == PhaseStopped {
		c.mu.Unlock()
		return errors.Wrap(errors.ErrSessionEnded, "link session")
	}
	if s.phase == PhaseIdle {
		s.phase = PhaseLinked
	}
	s.agg = s.agg.Clone()
	s.agg.IsLinked = true
	snapshot := s.agg.Clone()
	c.mu.Unlock()

	linked := true
	if err := c.store.Patch(ctx, sessionID, AggregatePatch{IsLinked: &linked}); err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to persist link flag")
		c.markDirty(sessionID)
	}

	c.notify(sessionID, snapshot)
	c.logger.WithField("session_id", sessionID).Info("Capture device linked")
	return nil
}

// Start begins recording. Counters are reset to zero — the only point at
// which they may shrink — and the generation is bumped so analysis
// responses from a previous run are discarded.
func (c *Coordinator) Start(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	s, err := c.getOrLoadLocked(ctx, sessionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.phase == PhaseStopped {
		c.mu.Unlock()
		return errors.Wrap(errors.ErrSessionEnded, "start recording")
	}
	s.generation++
	s.phase = PhaseRecording
	s.agg = NewAggregate()
	s.agg.IsLinked = true
	s.agg.IsRecording = true
	s.stopQuietTimerLocked()
	snapshot := s.agg.Clone()
	generation := s.generation
	c.mu.Unlock()

	c.persist(ctx, sessionID, snapshot)
	c.notify(sessionID, snapshot)
	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"generation": generation,
	}).Info("Recording started")
	return nil
}

// HandleEvent folds one observation event into the session aggregate.
// Invalid deltas are dropped and reported; the aggregate is unchanged.
func (c *Coordinator) HandleEvent(ctx context.Context, sessionID string, event ObservationEvent) error {
	c.mu.Lock()
	s, err := c.getOrLoadLocked(ctx, sessionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.phase == PhaseStopped {
		c.mu.Unlock()
		return errors.Wrap(errors.ErrSessionEnded, "handle event")
	}
	if s.phase != PhaseRecording && s.phase != PhaseAnalyzing {
		c.mu.Unlock()
		return errors.Wrap(errors.ErrFailedPrecondition, "session is not recording", map[string]interface{}{
			"session_id": sessionID,
			"phase":      string(s.phase),
		})
	}

	next, applyErr := Apply(s.agg, event)
	if applyErr != nil {
		c.mu.Unlock()
		metrics.InvalidDeltas.Inc()
		c.logger.WithError(applyErr).WithFields(logrus.Fields{
			"session_id": sessionID,
			"event_type": string(event.Type),
		}).Warn("Dropped invalid observation event")
		return applyErr
	}

	changed := next != s.agg
	s.agg = next
	snapshot := s.agg.Clone()
	if c.policy.Qualifies(event) {
		c.resetQuietTimerLocked(s)
	}
	c.mu.Unlock()

	metrics.EventsProcessed.WithLabelValues(string(event.Type)).Inc()

	if changed {
		c.persist(ctx, sessionID, snapshot)
		c.notify(sessionID, snapshot)
	}
	return nil
}

// Stop ends recording. Any pending quiet timer is cancelled and one final
// analysis pass runs synchronously, so every non-empty session gets at
// least one analysis covering its full transcript.
func (c *Coordinator) Stop(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	s, err := c.getOrLoadLocked(ctx, sessionID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.phase == PhaseStopped {
		c.mu.Unlock()
		return nil
	}
	s.stopQuietTimerLocked()
	generation := s.generation
	aggregate := s.agg.Clone()
	c.mu.Unlock()

	// Final flush before settling. Runs outside the lock; the generation
	// check on merge protects against a concurrent restart.
	if c.policy.ShouldCall(aggregate) {
		result, analyzeErr := c.analyze(ctx, sessionID, aggregate)
		if analyzeErr != nil {
			c.logger.WithError(analyzeErr).WithField("session_id", sessionID).Warn("Final analysis failed; retaining previous analysis text")
		} else {
			c.mergeResult(ctx, sessionID, generation, result)
		}
	} else {
		c.mergeResult(ctx, sessionID, generation, c.policy.EmptyResult())
	}

	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return errors.NewSessionNotFound(sessionID)
	}
	s.phase = PhaseStopped
	s.agg = s.agg.Clone()
	s.agg.IsRecording = false
	snapshot := s.agg.Clone()
	c.mu.Unlock()

	metrics.SessionsActive.Dec()

	recording := false
	if err := c.store.Patch(ctx, sessionID, AggregatePatch{IsRecording: &recording}); err != nil {
		c.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to persist stop flag")
		c.markDirty(sessionID)
		c.persist(ctx, sessionID, snapshot)
	}

	c.notify(sessionID, snapshot)
	c.logger.WithField("session_id", sessionID).Info("Recording stopped")
	return nil
}

// Read returns the current aggregate snapshot. Stopped sessions remain
// readable for review.
func (c *Coordinator) Read(ctx context.Context, sessionID string) (*Aggregate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.getOrLoadLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.agg.Clone(), nil
}

// Phase returns the lifecycle phase of a session.
func (c *Coordinator) Phase(sessionID string) (Phase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return "", errors.NewSessionNotFound(sessionID)
	}
	return s.phase, nil
}

// Generation returns the current generation counter of a session.
func (c *Coordinator) Generation(sessionID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return 0, errors.NewSessionNotFound(sessionID)
	}
	return s.generation, nil
}

// Close cancels all pending timers. In-flight analysis calls are allowed
// to complete; their results are dropped by the generation check if stale.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.stopQuietTimerLocked()
	}
}

// getOrLoadLocked resolves a session, falling back to the store for
// sessions this process has not seen (restart recovery). Caller holds c.mu.
func (c *Coordinator) getOrLoadLocked(ctx context.Context, sessionID string) (*session, error) {
	if s, ok := c.sessions[sessionID]; ok {
		return s, nil
	}

	agg, err := c.store.Read(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			return nil, errors.NewSessionNotFound(sessionID)
		}
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "load session", map[string]interface{}{
			"session_id": sessionID,
		})
	}

	phase := PhaseIdle
	switch {
	case agg.IsRecording:
		phase = PhaseRecording
	case agg.IsLinked:
		phase = PhaseLinked
	}
	s := &session{id: sessionID, agg: agg, phase: phase}
	c.sessions[sessionID] = s

	c.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"phase":      string(phase),
	}).Info("Session recovered from store")
	return s, nil
}

// resetQuietTimerLocked (re)arms the inactivity timer. Caller holds c.mu.
func (c *Coordinator) resetQuietTimerLocked(s *session) {
	s.stopQuietTimerLocked()
	sessionID := s.id
	generation := s.generation
	s.quietTimer = time.AfterFunc(c.policy.QuietWindow, func() {
		c.onQuietTimer(sessionID, generation)
	})
}

func (s *session) stopQuietTimerLocked() {
	if s.quietTimer != nil {
		s.quietTimer.Stop()
		s.quietTimer = nil
	}
}

// onQuietTimer fires once per quiet period. The generation captured when
// the timer was armed guards against firing into a restarted session; the
// phase is re-derived from coordinator state rather than a captured flag.
func (c *Coordinator) onQuietTimer(sessionID string, generation uint64) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || s.generation != generation {
		c.mu.Unlock()
		return
	}
	if s.phase != PhaseRecording {
		c.mu.Unlock()
		return
	}
	aggregate := s.agg.Clone()
	if c.policy.ShouldCall(aggregate) {
		s.phase = PhaseAnalyzing
	}
	c.mu.Unlock()

	ctx := context.Background()
	if !c.policy.ShouldCall(aggregate) {
		c.mergeResult(ctx, sessionID, generation, c.policy.EmptyResult())
		return
	}

	go func() {
		result, err := c.analyze(ctx, sessionID, aggregate)

		c.mu.Lock()
		if s, ok := c.sessions[sessionID]; ok && s.phase == PhaseAnalyzing && s.generation == generation {
			s.phase = PhaseRecording
		}
		c.mu.Unlock()

		if err != nil {
			// No retry here; the next qualifying event re-arms the timer.
			c.logger.WithError(err).WithField("session_id", sessionID).Warn("Analysis failed; retaining previous analysis text")
			return
		}
		c.mergeResult(ctx, sessionID, generation, result)
	}()
}

// analyze performs a single bounded call to the external analysis service.
func (c *Coordinator) analyze(ctx context.Context, sessionID string, aggregate *Aggregate) (AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.analysisTimeout)
	defer cancel()

	start := time.Now()
	metrics.AnalysisRequests.Inc()

	result, err := c.analyzer.Analyze(ctx, c.policy.BuildRequest(aggregate))
	metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisFailures.Inc()
		return AnalysisResult{}, errors.NewAnalysisFailure(err, "analyze conversation", map[string]interface{}{
			"session_id": sessionID,
		})
	}
	return result, nil
}

// mergeResult folds an analysis result into the session if its generation
// is still current; stale responses are discarded.
func (c *Coordinator) mergeResult(ctx context.Context, sessionID string, generation uint64, result AnalysisResult) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || s.generation != generation {
		c.mu.Unlock()
		metrics.StaleAnalysisDropped.Inc()
		c.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"generation": generation,
		}).Debug("Discarded stale analysis response")
		return
	}
	s.agg = MergeAnalysis(s.agg, result)
	snapshot := s.agg.Clone()
	c.mu.Unlock()

	c.persist(ctx, sessionID, snapshot)
	c.notify(sessionID, snapshot)
}

// persist writes a full aggregate snapshot. On store failure the in-memory
// state keeps mutating; the dirty flag makes the next successful write
// carry the reconciled local state (local wins for locally mutated fields).
func (c *Coordinator) persist(ctx context.Context, sessionID string, snapshot *Aggregate) {
	if err := c.store.Save(ctx, sessionID, snapshot); err != nil {
		metrics.StoreErrors.Inc()
		c.logger.WithError(err).WithField("session_id", sessionID).Warn("Session store unavailable; keeping local state")
		c.markDirty(sessionID)
		return
	}
	c.clearDirty(sessionID)
}

func (c *Coordinator) markDirty(sessionID string) {
	c.mu.Lock()
	if s, ok := c.sessions[sessionID]; ok {
		s.storeDirty = true
	}
	c.mu.Unlock()
}

func (c *Coordinator) clearDirty(sessionID string) {
	c.mu.Lock()
	if s, ok := c.sessions[sessionID]; ok {
		s.storeDirty = false
	}
	c.mu.Unlock()
}
