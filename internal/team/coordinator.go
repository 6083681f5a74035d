package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/observability"
	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	DefaultMaxAutoTriggers = 5
	DefaultDebounce        = 2 * time.Second
	DefaultMaxPeers        = 4
)

var (
	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = errors.New("team closed")
	// ErrPeerExists is returned when spawning a name already in use.
	ErrPeerExists = errors.New("peer already exists")
	// ErrTooManyPeers is returned when MaxPeers is reached.
	ErrTooManyPeers = errors.New("peer limit reached")
	// ErrInvalidPeerName is returned for reserved or malformed names.
	ErrInvalidPeerName = errors.New("invalid peer name")
)

// Config configures a Coordinator.
type Config struct {
	// SessionID is the lead's session. Peers use SessionID + "/" + name.
	SessionID string

	// Loop is the template for every agent loop. Agent and Tools are set
	// per agent; Sessions is shared so Close can abort every run.
	Loop agent.LoopConfig

	// Tools are registered for the lead and every peer, next to the team
	// tools.
	Tools       []agent.Tool
	ToolTimeout time.Duration

	// MaxAutoTriggers caps lead runs started by peer messages between two
	// user sends. Default: 5.
	MaxAutoTriggers int
	// Debounce is the quiet period before queued peer messages wake the
	// lead. Default: 2s.
	Debounce time.Duration
	// MaxPeers caps spawned peers. Default: 4.
	MaxPeers  int
	BusBuffer int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

func (c *Config) applyDefaults() {
	if c.MaxAutoTriggers <= 0 {
		c.MaxAutoTriggers = DefaultMaxAutoTriggers
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = DefaultMaxPeers
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Loop.Sessions == nil {
		c.Loop.Sessions = agent.NewSessionRegistry()
	}
	if c.Loop.Logger == nil {
		c.Loop.Logger = c.Logger
	}
	if c.Loop.Metrics == nil {
		c.Loop.Metrics = c.Metrics
	}
}

type peer struct {
	name      string
	sessionID string
	loop      *agent.AgentLoop
	sub       *Subscription
	inbox     *inbox
}

// inbox holds a peer's unread envelopes without bound until its current
// turn ends.
type inbox struct {
	mu    sync.Mutex
	items []Envelope
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) put(env Envelope) {
	b.mu.Lock()
	b.items = append(b.items, env)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) take() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

func (b *inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// PeerInfo describes a running peer.
type PeerInfo struct {
	Name      string
	SessionID string
}

// Coordinator runs a lead agent and the peers it spawns. Peers and the lead
// talk through a Bus. Messages for the lead are debounced in a LeadQueue
// and delivered as one user message with Source "team" once the lead is
// idle. Auto-triggered lead runs are capped; at the cap the coordinator
// pauses and queued messages wait for the next SendUser.
//
// Usage:
//
//	coord, _ := team.NewCoordinator(team.Config{Loop: loopCfg, Tools: base})
//	defer coord.Close()
//	res, err := coord.SendUser(ctx, "split the refactor between two peers")
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	bus     *Bus
	queue   *LeadQueue
	leadSub *Subscription
	lead    *agent.AgentLoop

	// ctx scopes auto-triggered lead runs and peer runs.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	peers        map[string]*peer
	autoTriggers int
	paused       bool
	closed       bool
}

// NewCoordinator builds the lead loop and starts routing bus messages for
// the lead into its queue.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "team", "session_id", cfg.SessionID),
		bus:    NewBus(cfg.BusBuffer, cfg.Logger),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[string]*peer),
	}
	c.queue = NewLeadQueue(cfg.Debounce, c.onLeadReady)

	registry, err := c.registry(AddressLead, true)
	if err != nil {
		cancel()
		return nil, err
	}
	loopCfg := cfg.Loop
	loopCfg.Agent = AddressLead
	loopCfg.Tools = registry
	c.lead, err = agent.NewAgentLoop(loopCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create lead loop: %w", err)
	}

	c.leadSub = c.bus.SubscribeFunc(AddressLead, func(env Envelope) {
		c.logger.Debug("queued message for lead", "from", env.From, "seq", env.Seq)
		c.queue.Enqueue(env)
	})
	return c, nil
}

// registry builds the tool set of one agent.
func (c *Coordinator) registry(name string, lead bool) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry(c.cfg.ToolTimeout, c.cfg.Logger)
	for _, tool := range c.cfg.Tools {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	if err := registry.Register(NewSendMessageTool(c.bus, name, c.Members)); err != nil {
		return nil, err
	}
	if lead {
		if err := registry.Register(NewSpawnPeerTool(c)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Bus returns the team bus.
func (c *Coordinator) Bus() *Bus {
	return c.bus
}

// Lead returns the lead loop.
func (c *Coordinator) Lead() *agent.AgentLoop {
	return c.lead
}

// SessionID returns the lead's session ID.
func (c *Coordinator) SessionID() string {
	return c.cfg.SessionID
}

// Paused reports whether auto-triggering is paused at the cap.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// AutoTriggers returns the auto-triggered lead runs since the last SendUser.
func (c *Coordinator) AutoTriggers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoTriggers
}

// Idle reports whether no agent is running and nothing is about to wake
// an agent. Lead messages held back by the auto-trigger pause count as
// idle.
func (c *Coordinator) Idle() bool {
	if c.cfg.Loop.Sessions.Count() > 0 || c.queue.Busy() {
		return false
	}
	c.mu.Lock()
	for _, p := range c.peers {
		if p.inbox.Len() > 0 {
			c.mu.Unlock()
			return false
		}
	}
	paused := c.paused
	c.mu.Unlock()
	return c.queue.Len() == 0 || paused
}

// Pending returns the number of messages waiting for the lead.
func (c *Coordinator) Pending() int {
	return c.queue.Len()
}

// SendUser runs the lead on a user message. It resets the auto-trigger
// counter and un-pauses. Messages still queued for the lead are appended to
// the history first so the lead sees them before the user's text.
func (c *Coordinator) SendUser(ctx context.Context, text string) (*agent.RunResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.autoTriggers = 0
	c.paused = false
	pending := c.queue.Drain()
	c.queue.BeginRun()
	c.mu.Unlock()
	defer c.queue.EndRun()

	if len(pending) > 0 {
		msg := teamMessage(pending)
		if err := c.cfg.Loop.Store.Append(ctx, c.cfg.SessionID, msg); err != nil {
			return nil, fmt.Errorf("append queued team messages: %w", err)
		}
	}
	input := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}
	return c.lead.Run(ctx, c.cfg.SessionID, input)
}

// Abort stops the running lead turn, if any.
func (c *Coordinator) Abort() bool {
	return c.lead.Abort(c.cfg.SessionID)
}

// AbortAll stops the lead and every peer mid-turn and pauses
// auto-triggering until the next SendUser. It returns how many runs were
// stopped.
func (c *Coordinator) AbortAll() int {
	c.mu.Lock()
	c.paused = true
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	n := 0
	if c.lead.Abort(c.cfg.SessionID) {
		n++
	}
	for _, p := range peers {
		if p.loop.Abort(p.sessionID) {
			n++
		}
	}
	return n
}

// onLeadReady runs when the debounce window has expired and the lead is
// idle.
func (c *Coordinator) onLeadReady() {
	c.mu.Lock()
	if c.closed || c.paused {
		c.mu.Unlock()
		return
	}
	if c.autoTriggers >= c.cfg.MaxAutoTriggers {
		c.paused = true
		c.mu.Unlock()
		c.logger.Info("auto-trigger limit reached, waiting for user",
			"limit", c.cfg.MaxAutoTriggers, "queued", c.queue.Len())
		c.cfg.Metrics.RecordAutoTrigger("paused")
		return
	}
	batch := c.queue.Drain()
	if len(batch) == 0 {
		c.mu.Unlock()
		return
	}
	c.autoTriggers++
	c.queue.BeginRun()
	c.wg.Add(1)
	c.mu.Unlock()

	c.cfg.Metrics.RecordAutoTrigger("triggered")
	go func() {
		defer c.wg.Done()
		defer c.queue.EndRun()
		if _, err := c.lead.Run(c.ctx, c.cfg.SessionID, teamMessage(batch)); err != nil && !errors.Is(err, agent.ErrAborted) {
			c.logger.Warn("auto-triggered lead run failed", "error", err)
		}
	}()
}

// Spawn starts a peer loop named name in its own session and hands it task.
func (c *Coordinator) Spawn(name, task string) (PeerInfo, error) {
	name = strings.TrimSpace(name)
	if err := validatePeerName(name); err != nil {
		return PeerInfo{}, err
	}
	if strings.TrimSpace(task) == "" {
		return PeerInfo{}, errors.New("task is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return PeerInfo{}, ErrClosed
	}
	if _, ok := c.peers[name]; ok {
		return PeerInfo{}, fmt.Errorf("%w: %s", ErrPeerExists, name)
	}
	if len(c.peers) >= c.cfg.MaxPeers {
		return PeerInfo{}, fmt.Errorf("%w (%d)", ErrTooManyPeers, c.cfg.MaxPeers)
	}

	registry, err := c.registry(name, false)
	if err != nil {
		return PeerInfo{}, err
	}
	loopCfg := c.cfg.Loop
	loopCfg.Agent = name
	loopCfg.Tools = registry
	loopCfg.Pinned = nil
	loopCfg.Provider.SystemPrompt = peerPrompt(c.cfg.Loop.Provider.SystemPrompt, name)
	loop, err := agent.NewAgentLoop(loopCfg)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("create peer loop: %w", err)
	}

	p := &peer{
		name:      name,
		sessionID: c.cfg.SessionID + "/" + name,
		loop:      loop,
		inbox:     newInbox(),
	}
	p.sub = c.bus.SubscribeFunc(name, p.inbox.put)
	c.peers[name] = p
	c.wg.Add(1)
	go c.runPeer(p, task)

	c.logger.Info("spawned peer", "peer", name, "peer_session", p.sessionID)
	return PeerInfo{Name: name, SessionID: p.sessionID}, nil
}

func validatePeerName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPeerName)
	case name == AddressLead || name == AddressBroadcast:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidPeerName, name)
	case len(name) > 64:
		return fmt.Errorf("%w: name is too long", ErrInvalidPeerName)
	}
	for _, r := range name {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("%w: %q may only contain letters, digits, '-' and '_'", ErrInvalidPeerName, name)
		}
	}
	return nil
}

func peerPrompt(base, name string) string {
	role := fmt.Sprintf("You are %q, a peer agent working for the team lead. "+
		"Do the task you are given, then report the result to %q with send_message. "+
		"Messages from other agents arrive prefixed with [Message from <name>].", name, AddressLead)
	if strings.TrimSpace(base) == "" {
		return role
	}
	return base + "\n\n" + role
}

// runPeer runs the task, then one turn per batch of unread messages until
// the coordinator closes.
func (c *Coordinator) runPeer(p *peer, task string) {
	defer c.wg.Done()
	logger := c.logger.With("peer", p.name)

	first := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   fmt.Sprintf("[Task from %s]\n%s", AddressLead, task),
		Source:    models.SourceTeam,
		CreatedAt: time.Now(),
	}
	c.runPeerTurn(p, first, logger)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-p.inbox.ready:
			if batch := p.inbox.take(); len(batch) > 0 {
				c.runPeerTurn(p, teamMessage(batch), logger)
			}
		}
	}
}

func (c *Coordinator) runPeerTurn(p *peer, msg *models.Message, logger *slog.Logger) {
	if c.ctx.Err() != nil {
		return
	}
	if _, err := p.loop.Run(c.ctx, p.sessionID, msg); err != nil && !errors.Is(err, agent.ErrAborted) {
		logger.Warn("peer run failed", "error", err)
	}
}

// Members returns the lead and every peer name, sorted.
func (c *Coordinator) Members() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.peers)+1)
	names = append(names, AddressLead)
	for name := range c.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Peers describes the spawned peers, sorted by name.
func (c *Coordinator) Peers() []PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerInfo, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, PeerInfo{Name: p.name, SessionID: p.sessionID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close aborts every run, closes the bus and waits for background work.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	c.queue.Stop()
	c.cancel()
	c.lead.Abort(c.cfg.SessionID)
	for _, p := range peers {
		p.loop.Abort(p.sessionID)
	}
	c.bus.Close()
	c.wg.Wait()
	return nil
}

// teamMessage folds a batch of envelopes into one user message.
func teamMessage(batch []Envelope) *models.Message {
	parts := make([]string, 0, len(batch))
	for _, env := range batch {
		parts = append(parts, fmt.Sprintf("[Message from %s]\n%s", env.From, env.Content))
	}
	return &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   strings.Join(parts, "\n\n"),
		Source:    models.SourceTeam,
		CreatedAt: time.Now(),
	}
}
