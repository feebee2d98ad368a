// Package coordinator owns the controllers of one conversation. It fans out
// append events to every non-author participant, aggregates passes into the
// conversation stall flag, and drives persistence after each append.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/adapter"
	"github.com/soyeahso/parley/internal/convo"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/participant"
)

// subscriberName identifies the coordinator's session subscription.
const subscriberName = "coordinator"

// Store persists session snapshots. Failures are logged and the conversation
// continues from memory.
type Store interface {
	Save(rec domain.SessionRecord) error
}

// TranscriptWriter maintains the durable transcript file participants are
// pointed at.
type TranscriptWriter interface {
	Write(rec domain.SessionRecord) error
	Path() string
}

// Config carries the shared controller settings. Zero durations select the
// participant package defaults.
type Config struct {
	Template            string
	PassSignal          string
	PollInterval        time.Duration
	CapturePollInterval time.Duration
	StabilityThreshold  time.Duration
	DeliveryBaseDelay   time.Duration
	DeliveryMaxDelay    time.Duration
	CaptureTimeout      time.Duration
}

// Coordinator wires one session to its participant controllers. It
// implements participant.TurnSink and participant.Roster.
//
// Lock discipline: mu is never held while calling a blocking controller
// method or session.Append, because controller goroutines call back into
// TurnCompleted and PeerNames.
type Coordinator struct {
	cfg        Config
	session    *convo.Session
	store      Store
	transcript TranscriptWriter
	hooks      *hooks.Manager
	log        *logging.Logger
	ctlLog     *logging.Logger // base logger handed to controllers

	mu          sync.Mutex
	controllers map[string]*participant.Controller
	order       []string
	infos       map[string]domain.ParticipantInfo
	passed      map[string]bool
	stalled     bool
	closed      bool
}

// New creates a coordinator and subscribes it to the session. store,
// transcript and hookMgr may be nil.
func New(cfg Config, sess *convo.Session, store Store, transcript TranscriptWriter, hookMgr *hooks.Manager, log *logging.Logger) *Coordinator {
	c := &Coordinator{
		cfg:         cfg,
		session:     sess,
		store:       store,
		transcript:  transcript,
		hooks:       hookMgr,
		log:         log.Sub("coordinator"),
		ctlLog:      log,
		controllers: make(map[string]*participant.Controller),
		infos:       make(map[string]domain.ParticipantInfo),
		passed:      make(map[string]bool),
	}
	sess.Subscribe(subscriberName, c.onAppend)
	return c
}

// AddParticipant creates and starts a controller for the participant. The
// adapter is handed over; the controller closes it on shutdown.
func (c *Coordinator) AddParticipant(info domain.ParticipantInfo, ad adapter.Adapter) *participant.Controller {
	c.session.AddParticipant(info.ID)

	ctl := participant.New(participant.Config{
		Info:                info,
		Template:            c.cfg.Template,
		PassSignal:          c.cfg.PassSignal,
		TranscriptPath:      c.transcriptPath(),
		PollInterval:        c.cfg.PollInterval,
		CapturePollInterval: c.cfg.CapturePollInterval,
		StabilityThreshold:  c.cfg.StabilityThreshold,
		DeliveryBaseDelay:   c.cfg.DeliveryBaseDelay,
		DeliveryMaxDelay:    c.cfg.DeliveryMaxDelay,
		CaptureTimeout:      c.cfg.CaptureTimeout,
	}, c.session, ad, c, c, c.ctlLog)

	c.mu.Lock()
	c.controllers[info.ID] = ctl
	c.order = append(c.order, info.ID)
	c.infos[info.ID] = info
	c.passed[info.ID] = false
	// A fresh participant has not passed, so the group cannot be stalled.
	c.stalled = false
	c.mu.Unlock()

	ctl.Start()
	c.log.Info().Str("participant", info.ID).Str("name", info.Name).Msg("participant joined")
	c.emit(hooks.EventParticipantJoined, map[string]any{
		"participant": info.ID,
		"name":        info.Name,
	})
	return ctl
}

// RemoveParticipant shuts down and discards the participant's controller.
// Its id stays in the session and cannot be reused.
func (c *Coordinator) RemoveParticipant(id string) {
	c.mu.Lock()
	ctl, ok := c.controllers[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.controllers, id)
	delete(c.passed, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	becameStalled := c.recomputeStall()
	c.mu.Unlock()

	ctl.Shutdown()
	c.log.Info().Str("participant", id).Msg("participant left")
	c.emit(hooks.EventParticipantLeft, map[string]any{"participant": id})
	if becameStalled {
		c.announceStall()
	}
}

// onAppend is the session broadcast handler. Any append is conversation
// activity: the pass map and stall flag reset, the snapshot is persisted,
// and every controller except the author gets a poke.
func (c *Coordinator) onAppend(ev convo.Event) {
	authorID := ""
	if ev.Message.Source.IsAgent() {
		authorID = ev.Message.Source.ParticipantID
	}

	c.mu.Lock()
	wasStalled := c.stalled
	c.stalled = false
	for id := range c.passed {
		c.passed[id] = false
	}
	targets := make([]*participant.Controller, 0, len(c.controllers))
	for id, ctl := range c.controllers {
		if id != authorID {
			targets = append(targets, ctl)
		}
	}
	c.mu.Unlock()

	// Persist before poking so a prompted participant finds this message in
	// the transcript.
	c.persist()
	for _, ctl := range targets {
		ctl.Notify(ev.Sequence)
	}

	c.emit(hooks.EventMessagePosted, map[string]any{
		"sequence": ev.Sequence,
		"source":   string(ev.Message.Source.Kind),
		"author":   ev.Message.Source.Label(),
	})
	if wasStalled {
		c.log.Info().Int64("sequence", ev.Sequence).Msg("conversation resumed")
		c.emit(hooks.EventConversationResumed, map[string]any{"sequence": ev.Sequence})
	}
}

// TurnCompleted records a turn outcome. All participants passing in a row
// stalls the conversation; any real reply clears it (the append handler
// resets the whole map as well).
func (c *Coordinator) TurnCompleted(participantID string, passed bool) {
	c.mu.Lock()
	if _, tracked := c.passed[participantID]; !tracked {
		c.mu.Unlock()
		return
	}
	c.passed[participantID] = passed
	var becameStalled bool
	if passed {
		becameStalled = c.recomputeStall()
	} else {
		c.stalled = false
	}
	streak := 0
	if ctl := c.controllers[participantID]; ctl != nil {
		streak = ctl.Status().ConsecutivePasses
	}
	c.mu.Unlock()

	if passed {
		c.emit(hooks.EventParticipantPassed, map[string]any{
			"participant": participantID,
			"streak":      streak,
		})
	}
	if becameStalled {
		c.announceStall()
	}
}

// recomputeStall must be called with mu held. Reports a false-to-true edge.
func (c *Coordinator) recomputeStall() bool {
	if c.stalled || len(c.passed) == 0 {
		return false
	}
	for _, p := range c.passed {
		if !p {
			return false
		}
	}
	c.stalled = true
	return true
}

func (c *Coordinator) announceStall() {
	c.log.Warn().Msg("conversation stalled, every participant passed")
	c.emit(hooks.EventConversationStalled, map[string]any{
		"sequence": c.session.Sequence(),
	})
}

// SendUserMessage appends a user message. The append broadcast alone fans
// out to all participants and re-engages a stalled conversation.
func (c *Coordinator) SendUserMessage(text string) int64 {
	return c.session.Append(domain.NewMessage(domain.UserSource(), text))
}

// StopAll abandons every controller's current turn and pending delivery
// without tearing down polling; the conversation resumes on the next
// relevant message.
func (c *Coordinator) StopAll() {
	for _, ctl := range c.snapshot() {
		ctl.Stop()
	}
	c.log.Info().Msg("all turns stopped")
}

// ResetAll stops current work and clears pass tracking and dedupe history
// everywhere, fast-forwarding every controller past the current log.
func (c *Coordinator) ResetAll() {
	for _, ctl := range c.snapshot() {
		ctl.Reset()
	}
	c.mu.Lock()
	for id := range c.passed {
		c.passed[id] = false
	}
	c.stalled = false
	c.mu.Unlock()
	c.log.Info().Msg("conversation state reset")
}

// Shutdown stops every controller, unsubscribes from the session, and
// persists a final snapshot. Terminal, not resumable.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.session.Unsubscribe(subscriberName)
	for _, ctl := range c.snapshot() {
		ctl.Shutdown()
	}
	c.persist()
	c.log.Info().Msg("coordinator shut down")
}

func (c *Coordinator) snapshot() []*participant.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*participant.Controller, 0, len(c.order))
	for _, id := range c.order {
		if ctl := c.controllers[id]; ctl != nil {
			out = append(out, ctl)
		}
	}
	return out
}

func (c *Coordinator) persist() {
	rec := c.session.Snapshot()
	if c.store != nil {
		if err := c.store.Save(rec); err != nil {
			c.log.Warn().Err(err).Msg("session save failed, continuing from memory")
		}
	}
	if c.transcript != nil {
		if err := c.transcript.Write(rec); err != nil {
			c.log.Warn().Err(err).Msg("transcript write failed")
		}
	}
}

func (c *Coordinator) transcriptPath() string {
	if c.transcript == nil {
		return ""
	}
	return c.transcript.Path()
}

func (c *Coordinator) emit(event string, data map[string]any) {
	if c.hooks == nil {
		return
	}
	c.hooks.EmitAsync(context.Background(), event, data)
}

// PeerNames returns the display names of every participant except selfID,
// in join order.
func (c *Coordinator) PeerNames(selfID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.order))
	for _, id := range c.order {
		if id == selfID {
			continue
		}
		names = append(names, c.infos[id].Name)
	}
	return names
}

// Stalled reports whether every participant has passed since the last real
// message.
func (c *Coordinator) Stalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalled
}

// Active reports whether any participant currently has a turn in flight.
func (c *Coordinator) Active() bool {
	for _, ctl := range c.snapshot() {
		if ctl.Status().Processing {
			return true
		}
	}
	return false
}

// Statuses returns per-participant state snapshots in join order.
func (c *Coordinator) Statuses() []domain.ParticipantStatus {
	ctls := c.snapshot()
	out := make([]domain.ParticipantStatus, 0, len(ctls))
	for _, ctl := range ctls {
		out = append(out, ctl.Status())
	}
	return out
}

// Status aggregates the conversation view for status commands and the
// gateway.
func (c *Coordinator) Status() domain.ConversationStatus {
	return domain.ConversationStatus{
		SessionID:    c.session.ID(),
		Title:        c.session.Title(),
		Sequence:     c.session.Sequence(),
		Stalled:      c.Stalled(),
		Active:       c.Active(),
		Participants: c.Statuses(),
	}
}

// History returns messages with sequence greater than after.
func (c *Coordinator) History(after int64) []domain.Message {
	return c.session.MessagesAfter(after)
}

// Session exposes the underlying conversation log.
func (c *Coordinator) Session() *convo.Session {
	return c.session
}

// TranscriptPath returns the durable transcript location, or "" when no
// transcript writer is configured.
func (c *Coordinator) TranscriptPath() string {
	return c.transcriptPath()
}
