package pool

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"mjgate/internal/model"
)

// SelectOpts narrows instance selection for one dispatch decision.
type SelectOpts struct {
	Filter *model.Filter

	// Variant the task requires; AliasVariants are acceptable substitutes
	// under the variant-aliasing policy (the chosen instance then serves as
	// the task's real variant).
	Variant       model.BotVariant
	AliasVariants []model.BotVariant

	NeedBlend    bool
	NeedDescribe bool
	NeedShorten  bool

	// SubChannelID restricts selection to instances owning the sub-channel.
	SubChannelID string

	// InstanceIDs, when non-empty, restricts selection to these channels.
	InstanceIDs []string
}

// Pool holds every connected instance and selects an eligible one per
// request. Selection is deterministic for a fixed pool state: eligible
// instances are ordered by account sort then channel id, and a round-robin
// cursor walks that order.
type Pool struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	cursor    uint64
	log       *zap.Logger
}

// New creates an empty pool.
func New(log *zap.Logger) *Pool {
	return &Pool{instances: make(map[string]*Instance), log: log}
}

// Register adds a connected instance, replacing any prior registration for
// the same channel.
func (p *Pool) Register(in *Instance) {
	p.mu.Lock()
	p.instances[in.ChannelID()] = in
	p.mu.Unlock()
	p.log.Info("instance registered", zap.String("channel_id", in.ChannelID()))
}

// Remove shuts an instance down and drops it from the pool.
func (p *Pool) Remove(channelID string) {
	p.mu.Lock()
	in := p.instances[channelID]
	delete(p.instances, channelID)
	p.mu.Unlock()
	if in != nil {
		in.Shutdown()
		p.log.Info("instance removed", zap.String("channel_id", channelID))
	}
}

// Get returns the instance for a channel id, or nil.
func (p *Pool) Get(channelID string) *Instance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instances[channelID]
}

// GetAlive returns the live instance for a channel id, or nil.
func (p *Pool) GetAlive(channelID string) *Instance {
	in := p.Get(channelID)
	if in == nil || !in.IsAlive() {
		return nil
	}
	return in
}

// AliveInstances returns all live instances ordered by sort then channel id.
func (p *Pool) AliveInstances() []*Instance {
	p.mu.RLock()
	out := make([]*Instance, 0, len(p.instances))
	for _, in := range p.instances {
		if in.IsAlive() {
			out = append(out, in)
		}
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Account(), out[j].Account()
		if ai.Sort != aj.Sort {
			return ai.Sort < aj.Sort
		}
		return ai.ChannelID < aj.ChannelID
	})
	return out
}

// Select picks an eligible live instance for the given constraints, or nil
// when none qualifies. A nil result means capacity unavailable, not a fault.
func (p *Pool) Select(opts SelectOpts) *Instance {
	eligible := p.eligible(opts)
	if len(eligible) == 0 {
		return nil
	}

	p.mu.Lock()
	idx := int(p.cursor % uint64(len(eligible)))
	p.cursor++
	p.mu.Unlock()
	return eligible[idx]
}

func (p *Pool) eligible(opts SelectOpts) []*Instance {
	allowed := func(id string) bool {
		if len(opts.InstanceIDs) == 0 {
			return true
		}
		for _, want := range opts.InstanceIDs {
			if want == id {
				return true
			}
		}
		return false
	}
	filterAllowed := func(a *model.Account) bool {
		f := opts.Filter
		if f == nil {
			return true
		}
		if len(f.InstanceIDs) > 0 {
			ok := false
			for _, want := range f.InstanceIDs {
				if want == a.ChannelID || want == a.ID {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		if len(f.Modes) > 0 && len(a.AllowModes) > 0 {
			ok := false
			for _, m := range f.Modes {
				for _, am := range a.AllowModes {
					if m == am {
						ok = true
					}
				}
			}
			if !ok {
				return false
			}
		}
		if f.Remix != nil && a.RemixAutoSubmit != *f.Remix {
			return false
		}
		return true
	}
	servesVariant := func(a *model.Account) bool {
		if opts.Variant == "" || a.ServesVariant(opts.Variant) {
			return true
		}
		for _, alias := range opts.AliasVariants {
			if a.ServesVariant(alias) {
				return true
			}
		}
		return false
	}

	var out []*Instance
	for _, in := range p.AliveInstances() {
		a := in.Account()
		if !a.Enable {
			continue
		}
		if !allowed(a.ChannelID) || !filterAllowed(a) || !servesVariant(a) {
			continue
		}
		if opts.NeedBlend && !a.CanBlend {
			continue
		}
		if opts.NeedDescribe && !a.CanDescribe {
			continue
		}
		if opts.NeedShorten && !a.CanShorten {
			continue
		}
		if opts.SubChannelID != "" && !a.OwnsSubChannel(opts.SubChannelID) {
			continue
		}
		out = append(out, in)
	}
	return out
}

// FindRunning searches every live instance's registry, used by the gateway
// to route modal-arrival updates when the owning channel is ambiguous.
func (p *Pool) FindRunning(pred func(*model.Task) bool) (*Instance, *model.Task) {
	for _, in := range p.AliveInstances() {
		if tasks := in.Registry.Find(pred); len(tasks) > 0 {
			return in, tasks[0]
		}
	}
	return nil, nil
}
