package participant

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/parley/internal/adapter"
	"github.com/soyeahso/parley/internal/convo"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// Default cadences and bounds for the polling loops.
const (
	defaultPollInterval        = 500 * time.Millisecond
	defaultCapturePollInterval = 500 * time.Millisecond
	defaultStabilityThreshold  = time.Second
	defaultDeliveryBaseDelay   = time.Second
	defaultDeliveryMaxDelay    = 8 * time.Second
)

// maxFingerprints bounds the posted-content dedupe window.
const maxFingerprints = 32

// TurnSink receives turn outcomes from controllers. The coordinator
// implements it to aggregate passes into the conversation stall flag.
type TurnSink interface {
	TurnCompleted(participantID string, passed bool)
}

// Roster names the other participants for prompt rendering.
type Roster interface {
	PeerNames(participantID string) []string
}

// Config configures one participant controller. Zero durations select the
// package defaults.
type Config struct {
	Info domain.ParticipantInfo

	Template       string
	PassSignal     string
	TranscriptPath string

	PollInterval        time.Duration // inbox-check cadence
	CapturePollInterval time.Duration // output-capture cadence
	StabilityThreshold  time.Duration // how long idle must hold to count
	DeliveryBaseDelay   time.Duration
	DeliveryMaxDelay    time.Duration

	// CaptureTimeout bounds how long a turn may wait for output before the
	// payload is re-enqueued. Zero waits indefinitely; a silent adapter is
	// indistinguishable from one still thinking.
	CaptureTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Template == "" {
		c.Template = DefaultTemplate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.CapturePollInterval <= 0 {
		c.CapturePollInterval = defaultCapturePollInterval
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = defaultStabilityThreshold
	}
	if c.DeliveryBaseDelay <= 0 {
		c.DeliveryBaseDelay = defaultDeliveryBaseDelay
	}
	if c.DeliveryMaxDelay <= 0 {
		c.DeliveryMaxDelay = defaultDeliveryMaxDelay
	}
}

// activeTurn is the single in-flight injection-to-capture cycle.
type activeTurn struct {
	id          string
	runID       int64
	seqAtInject int64
	payload     string
	newCount    int
	marker      adapter.Marker
	injectedAt  time.Time
}

// delivery is the one-slot outbound queue. A newer enqueue replaces the
// payload in place; the retry clock keeps its schedule.
type delivery struct {
	turnID   string
	payload  string
	newCount int
	attempts int
	nextTry  time.Time
	lastErr  error
}

type cmdKind int

const (
	cmdStop cmdKind = iota
	cmdReset
)

type command struct {
	kind cmdKind
	ack  chan struct{}
}

// Controller owns one participant's turn lifecycle. All state below the
// channels is touched only by the run goroutine, so it needs no lock; the
// white-box tests drive the same step methods synchronously instead.
type Controller struct {
	cfg     Config
	info    domain.ParticipantInfo
	session *convo.Session
	ad      adapter.Adapter
	sink    TurnSink
	roster  Roster
	cleaner *Cleaner
	log     *logging.Logger

	notify  chan int64
	cmds    chan command
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	lastSeen   int64
	processing bool
	runID      int64
	turn       *activeTurn
	pending    *delivery
	passStreak int

	postedTurns map[string]struct{}
	fpSet       map[string]struct{}
	fpOrder     []string

	statusMu sync.Mutex
	status   domain.ParticipantStatus
}

// New creates a controller for one participant. The adapter is owned
// exclusively by this controller; Shutdown closes it.
func New(cfg Config, sess *convo.Session, ad adapter.Adapter, sink TurnSink, roster Roster, log *logging.Logger) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:         cfg,
		info:        cfg.Info,
		session:     sess,
		ad:          ad,
		sink:        sink,
		roster:      roster,
		cleaner:     NewCleaner(cfg.PassSignal),
		log:         log.Sub("participant." + cfg.Info.ID),
		notify:      make(chan int64, 1),
		cmds:        make(chan command),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		runID:       1,
		postedTurns: make(map[string]struct{}),
		fpSet:       make(map[string]struct{}),
	}
	c.status = domain.ParticipantStatus{ID: c.info.ID, Name: c.info.Name}
	return c
}

// Start launches the run loop.
func (c *Controller) Start() {
	go c.run()
}

func (c *Controller) run() {
	defer close(c.stopped)
	input := time.NewTicker(c.cfg.PollInterval)
	defer input.Stop()
	output := time.NewTicker(c.cfg.CapturePollInterval)
	defer output.Stop()

	c.log.Debug().Msg("controller started")
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.cmds:
			c.handleCommand(cmd)
		case <-c.notify:
			c.step(time.Now())
		case now := <-input.C:
			c.step(now)
		case now := <-output.C:
			c.pollTurn(now)
		}
		c.publishStatus()
	}
}

// step runs one inbox-check cycle: look for new messages, then try to move
// the pending delivery along.
func (c *Controller) step(now time.Time) {
	c.checkInbox(now)
	if c.pending != nil && !c.processing && !now.Before(c.pending.nextTry) {
		c.attemptDelivery(now)
	}
}

// checkInbox fetches messages beyond the cursor once the adapter is stably
// idle and no turn is in flight. Self-authored messages never trigger a
// turn, but a self-only batch still advances the cursor so it is not
// re-evaluated forever.
func (c *Controller) checkInbox(now time.Time) {
	if c.processing {
		return
	}
	idle, since := c.ad.IdleState()
	if !idle || now.Sub(since) < c.cfg.StabilityThreshold {
		return
	}
	msgs := c.session.MessagesAfter(c.lastSeen)
	if len(msgs) == 0 {
		return
	}
	seen := c.lastSeen + int64(len(msgs))
	relevant := 0
	for _, m := range msgs {
		if !c.authoredBySelf(m) {
			relevant++
		}
	}
	if relevant == 0 {
		c.lastSeen = seen
		return
	}
	payload := c.renderPayload(relevant)
	if c.pending == nil {
		c.pending = &delivery{
			turnID:   uuid.New().String(),
			payload:  payload,
			newCount: relevant,
			nextTry:  now,
		}
		c.log.Debug().Int("newMessages", relevant).Msg("payload queued")
		return
	}
	c.pending.payload = payload
	c.pending.newCount = relevant
}

func (c *Controller) authoredBySelf(m domain.Message) bool {
	return m.Source.IsAgent() && m.Source.ParticipantID == c.info.ID
}

func (c *Controller) renderPayload(newCount int) string {
	return RenderPrompt(c.cfg.Template, PromptVars{
		MyName:          c.info.Name,
		Participants:    c.roster.PeerNames(c.info.ID),
		TranscriptPath:  c.cfg.TranscriptPath,
		NewMessageCount: newCount,
	})
}

// attemptDelivery injects the pending payload. On failure the next try is
// scheduled with exponential backoff; on success the cursor advances to the
// log sequence at the moment of injection and an active turn begins. The
// output marker is taken before injecting so the capture region includes
// the prompt echo, which the cleaner excises.
func (c *Controller) attemptDelivery(now time.Time) {
	d := c.pending
	marker := c.ad.Marker()
	if err := c.ad.Inject(d.payload); err != nil {
		d.attempts++
		d.lastErr = err
		d.nextTry = now.Add(backoffDelay(d.attempts, c.cfg.DeliveryBaseDelay, c.cfg.DeliveryMaxDelay))
		c.log.Warn().Err(err).Int("attempt", d.attempts).
			Dur("retryIn", d.nextTry.Sub(now)).Msg("delivery failed")
		return
	}
	c.turn = &activeTurn{
		id:          d.turnID,
		runID:       c.runID,
		seqAtInject: c.session.Sequence(),
		payload:     d.payload,
		newCount:    d.newCount,
		marker:      marker,
		injectedAt:  now,
	}
	c.pending = nil
	c.processing = true
	c.lastSeen = c.turn.seqAtInject
	c.log.Debug().Str("turn", c.turn.id).Int64("seq", c.turn.seqAtInject).Msg("payload injected")
}

// backoffDelay computes min(limit, base*2^(attempt-1)) for attempt >= 1.
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt > 16 {
		return limit
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// pollTurn drives the capture side: once the adapter has been stably idle
// again, read everything since the injection marker, clean it, and classify.
// An empty capture just waits for the next poll.
func (c *Controller) pollTurn(now time.Time) {
	t := c.turn
	if t == nil {
		return
	}
	if t.runID != c.runID {
		c.turn = nil
		c.processing = false
		return
	}
	if !c.ad.Alive() {
		c.log.Warn().Str("turn", t.id).Msg("adapter lost mid-turn, re-enqueueing payload")
		c.requeue(t, now)
		return
	}
	if c.cfg.CaptureTimeout > 0 && now.Sub(t.injectedAt) > c.cfg.CaptureTimeout {
		c.log.Warn().Str("turn", t.id).Dur("waited", now.Sub(t.injectedAt)).
			Msg("capture timed out, re-enqueueing payload")
		c.requeue(t, now)
		return
	}
	idle, since := c.ad.IdleState()
	if !idle || now.Sub(since) < c.cfg.StabilityThreshold {
		return
	}
	raw := c.ad.OutputSince(t.marker)
	cleaned := c.cleaner.Clean(raw, t.payload)
	if cleaned == "" {
		return
	}
	c.finishTurn(t, cleaned, now)
}

// requeue abandons the active turn and puts its payload back in the
// delivery slot under a fresh turn id.
func (c *Controller) requeue(t *activeTurn, now time.Time) {
	c.turn = nil
	c.processing = false
	c.pending = &delivery{
		turnID:   uuid.New().String(),
		payload:  t.payload,
		newCount: t.newCount,
		nextTry:  now.Add(c.cfg.DeliveryBaseDelay),
	}
}

// finishTurn classifies cleaned output. A pass increments the streak and
// never touches the log; a real reply resets the streak and appends once,
// guarded by the turn-id and fingerprint dedupe sets. Either way the inbox
// is re-checked immediately so messages that arrived mid-turn are not left
// to a stale cursor.
func (c *Controller) finishTurn(t *activeTurn, cleaned string, now time.Time) {
	c.turn = nil
	c.processing = false

	if c.cleaner.IsPass(cleaned) {
		c.passStreak++
		c.publishStatus()
		c.log.Debug().Str("turn", t.id).Int("streak", c.passStreak).Msg("participant passed")
		c.sink.TurnCompleted(c.info.ID, true)
	} else {
		c.passStreak = 0
		c.publishStatus()
		c.sink.TurnCompleted(c.info.ID, false)
		if c.alreadyPosted(t.id, cleaned) {
			c.log.Debug().Str("turn", t.id).Msg("duplicate capture dropped")
		} else {
			c.markPosted(t.id, cleaned)
			msg := domain.NewMessage(domain.AgentSource(c.info.Name, c.info.ID, c.info.Color), cleaned)
			seq := c.session.Append(msg)
			c.log.Info().Str("turn", t.id).Int64("seq", seq).
				Int("chars", len(cleaned)).Msg("reply posted")
		}
	}

	// A queued poke is stale now: the re-check below sees everything it
	// announced.
	c.drainNotify()
	c.step(now)
}

func (c *Controller) alreadyPosted(turnID, content string) bool {
	if _, ok := c.postedTurns[turnID]; ok {
		return true
	}
	_, ok := c.fpSet[fingerprint(content)]
	return ok
}

func (c *Controller) markPosted(turnID, content string) {
	c.postedTurns[turnID] = struct{}{}
	fp := fingerprint(content)
	if _, ok := c.fpSet[fp]; ok {
		return
	}
	c.fpSet[fp] = struct{}{}
	c.fpOrder = append(c.fpOrder, fp)
	if len(c.fpOrder) > maxFingerprints {
		delete(c.fpSet, c.fpOrder[0])
		c.fpOrder = c.fpOrder[1:]
	}
}

// wsRunRe collapses whitespace runs for content fingerprinting.
var wsRunRe = regexp.MustCompile(`\s+`)

func fingerprint(s string) string {
	return strings.ToLower(strings.TrimSpace(wsRunRe.ReplaceAllString(s, " ")))
}

func (c *Controller) drainNotify() {
	select {
	case <-c.notify:
	default:
	}
}

// Notify pokes the controller that the log advanced to seq. Non-blocking;
// when pokes pile up only the newest is kept.
func (c *Controller) Notify(seq int64) {
	select {
	case c.notify <- seq:
		return
	default:
	}
	select {
	case <-c.notify:
	default:
	}
	select {
	case c.notify <- seq:
	default:
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStop:
		c.applyStop()
	case cmdReset:
		c.applyReset()
	}
	close(cmd.ack)
}

// applyStop abandons the active turn and pending delivery. Polling keeps
// running, so the controller resumes on the next relevant message.
func (c *Controller) applyStop() {
	c.runID++
	c.turn = nil
	c.pending = nil
	c.processing = false
	c.log.Debug().Msg("turn abandoned")
}

// applyReset stops the current work and additionally clears the pass streak
// and dedupe history, fast-forwarding the cursor past the current log.
func (c *Controller) applyReset() {
	c.applyStop()
	c.passStreak = 0
	c.postedTurns = make(map[string]struct{})
	c.fpSet = make(map[string]struct{})
	c.fpOrder = nil
	c.lastSeen = c.session.Sequence()
}

func (c *Controller) exec(kind cmdKind) {
	ack := make(chan struct{})
	select {
	case c.cmds <- command{kind: kind, ack: ack}:
	case <-c.stopped:
		return
	}
	select {
	case <-ack:
	case <-c.stopped:
	}
}

// Stop abandons the current turn and pending delivery without tearing down
// the polling loops.
func (c *Controller) Stop() { c.exec(cmdStop) }

// Reset stops current work and clears pass and dedupe state.
func (c *Controller) Reset() { c.exec(cmdReset) }

// Shutdown terminates the run loop and closes the adapter. Not resumable.
func (c *Controller) Shutdown() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
	if err := c.ad.Close(); err != nil {
		c.log.Warn().Err(err).Msg("adapter close failed")
	}
	c.log.Debug().Msg("controller shut down")
}

// ID returns the participant id this controller owns.
func (c *Controller) ID() string { return c.info.ID }

// Name returns the participant display name.
func (c *Controller) Name() string { return c.info.Name }

func (c *Controller) publishStatus() {
	s := domain.ParticipantStatus{
		ID:                c.info.ID,
		Name:              c.info.Name,
		Processing:        c.processing,
		LastSeenSequence:  c.lastSeen,
		ConsecutivePasses: c.passStreak,
	}
	if c.pending != nil {
		s.PendingAttempts = c.pending.attempts
		if c.pending.lastErr != nil {
			s.LastError = c.pending.lastErr.Error()
		}
	}
	if c.turn != nil {
		s.ActiveTurnID = c.turn.id
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Status returns the most recently published state snapshot.
func (c *Controller) Status() domain.ParticipantStatus {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}
