package gateway

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"mjgate/internal/correlate"
	"mjgate/internal/model"
	"mjgate/internal/pool"
)

// Router classifies inbound messages and delivers them: correlation events
// to the engine, modal and seed arrivals directly onto the waiting task.
type Router struct {
	pool   *pool.Pool
	engine *correlate.Engine
	log    *zap.Logger

	// nijiAuthorID distinguishes the two bots' messages.
	nijiAuthorID string
}

// NewRouter builds a router over the shared pool and engine.
func NewRouter(p *pool.Pool, engine *correlate.Engine, nijiAuthorID string, log *zap.Logger) *Router {
	return &Router{pool: p, engine: engine, nijiAuthorID: nijiAuthorID, log: log}
}

// Handle dispatches one decoded message.
func (r *Router) Handle(ctx context.Context, m *InboundMessage) {
	in := r.pool.Get(m.ChannelID)
	if in == nil {
		// Sub-channel and private-channel traffic is owned by exactly one
		// instance; find it by account config.
		in = r.findOwner(m.ChannelID)
	}
	if in == nil {
		return
	}

	if m.Modal {
		r.deliverModal(in, m)
		return
	}
	if seed := seedOf(m); seed != "" {
		r.deliverSeed(in, m, seed)
		return
	}

	if reason := errorEmbed(m); reason != "" {
		e := toEvent(m, correlate.KindFailed, r.nijiAuthorID)
		e.FailReason = reason
		r.engine.Process(ctx, in, e)
		return
	}

	switch {
	case m.Edit && progressOf(m.Content) >= 0:
		r.engine.Process(ctx, in, toEvent(m, correlate.KindProgress, r.nijiAuthorID))
	case strings.Contains(m.Content, "Waiting to start"):
		// Submission acknowledged; deliver the interaction metadata so the
		// strong matchers can bind later frames.
		r.deliverAck(in, m)
	case len(m.Attachments) > 0 || hasDescribeShape(m):
		r.engine.Process(ctx, in, toEvent(m, correlate.KindFinished, r.nijiAuthorID))
	default:
		r.log.Debug("unclassified message dropped",
			zap.String("message_id", m.ID),
			zap.String("channel_id", m.ChannelID))
	}
}

func (r *Router) findOwner(channelID string) *pool.Instance {
	for _, in := range r.pool.AliveInstances() {
		a := in.Account()
		if a.PrivateChannelID == channelID || a.NijiChannelID == channelID || a.OwnsSubChannel(channelID) {
			return in
		}
	}
	return nil
}

// deliverModal routes a confirmation window onto the task that opened it,
// matched by nonce.
func (r *Router) deliverModal(in *pool.Instance, m *InboundMessage) {
	tasks := in.Registry.Find(func(t *model.Task) bool {
		return m.Nonce != "" && t.Nonce == m.Nonce && t.GetStatus().Active()
	})
	if len(tasks) == 0 {
		r.log.Warn("modal with no waiting task",
			zap.String("message_id", m.ID), zap.String("nonce", m.Nonce))
		return
	}
	t := tasks[0]
	t.Lock()
	t.ModalMessageID = m.ID
	if m.InteractionID != "" {
		t.InteractionID = m.InteractionID
	}
	t.Unlock()
	t.Signal()
	r.log.Debug("modal delivered", zap.String("task_id", t.ID), zap.String("modal_id", m.ID))
}

// deliverAck binds interaction metadata and the submission message id to
// the task identified by nonce.
func (r *Router) deliverAck(in *pool.Instance, m *InboundMessage) {
	tasks := in.Registry.Find(func(t *model.Task) bool {
		return m.Nonce != "" && t.Nonce == m.Nonce && t.GetStatus().Active()
	})
	if len(tasks) == 0 {
		return
	}
	t := tasks[0]
	t.Lock()
	if m.InteractionID != "" {
		t.InteractionID = m.InteractionID
	}
	if prompt := correlate.GetFullPrompt(m.Content); prompt != "" && t.PromptFull == "" {
		t.PromptFull = prompt
	}
	t.Unlock()
	t.RecordMessageID(m.ID)
}

// deliverSeed routes a seed reply onto the task that requested it. Seed
// lookups run against finished tasks, so they wait in the dedicated seed
// index rather than the active-task registry.
func (r *Router) deliverSeed(in *pool.Instance, m *InboundMessage, seed string) {
	hash := ""
	if len(m.Embeds) > 0 && m.Embeds[0].Image.URL != "" {
		hash = correlate.MessageHash(m.Embeds[0].Image.URL)
	}
	tasks := in.Seeds.Find(func(t *model.Task) bool {
		if hash != "" && t.GetProperty(model.PropMessageHash) == hash {
			return true
		}
		return m.ReferencedMessageID != "" && t.MessageID == m.ReferencedMessageID
	})
	if len(tasks) == 0 {
		r.log.Debug("seed with no waiting task", zap.String("message_id", m.ID))
		return
	}
	t := tasks[0]
	t.Lock()
	t.Seed = seed
	t.SeedMsgID = m.ID
	t.Unlock()
	t.Signal()
}

// seedOf extracts the seed value from a seed reply, or empty.
func seedOf(m *InboundMessage) string {
	for _, e := range m.Embeds {
		if i := strings.Index(e.Footer.Text, "seed "); i >= 0 {
			return strings.TrimSpace(e.Footer.Text[i+len("seed "):])
		}
	}
	const marker = "**seed** "
	if i := strings.Index(m.Content, marker); i >= 0 {
		rest := m.Content[i+len(marker):]
		if j := strings.IndexAny(rest, " \n"); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return ""
}
