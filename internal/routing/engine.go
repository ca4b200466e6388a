// Package routing decides, per request, whether the local backend or a
// remote tier serves it.
//
// DESIGN: the decision is re-evaluated on every request from a fixed ordered
// sequence. Intent classification picks a starting tier, then two
// intent-independent overrides (local slot busy, context overflow) can divert
// the request to the lowest configured remote tier. The only state surviving
// across requests is the last resolved tier per session, which feeds the
// try_again escalation.
package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tierleap/tier-gateway/internal/config"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// IntentCategory is the classifier's verdict on the latest user text.
type IntentCategory string

const (
	IntentChitChat     IntentCategory = "chit_chat"
	IntentSimpleCode   IntentCategory = "simple_code"
	IntentHardQuestion IntentCategory = "hard_question"
	IntentTryAgain     IntentCategory = "try_again"
)

// Tier bounds. Escalation never exceeds MaxTier.
const (
	MinTier = 1
	MaxTier = 3
)

// Target is one tier's configured destination.
type Target struct {
	Tier        int
	Remote      bool
	RemoteModel string // remote model id, empty for local targets
}

// Config maps intents to tiers and tiers to targets.
type Config struct {
	Intents map[IntentCategory]int
	Targets map[int]Target
}

// Decision is the per-request routing outcome. Created fresh each request;
// nothing in it is shared.
type Decision struct {
	SessionID   string         `json:"session_id"`
	Intent      IntentCategory `json:"intent,omitempty"`
	Tier        int            `json:"tier"`
	Remote      bool           `json:"remote"`
	RemoteModel string         `json:"remote_model,omitempty"`
	Reason      string         `json:"reason"`
}

// Decision reasons, in the order the sequence can produce them.
const (
	ReasonCheapPath       = "cheap_path"
	ReasonIntent          = "intent"
	ReasonEscalation      = "escalation"
	ReasonOverflowBusy    = "overflow_busy"
	ReasonContextOverflow = "context_overflow"
)

// Classifier turns the latest user text into an intent category.
type Classifier interface {
	Classify(ctx context.Context, text string) (IntentCategory, error)
}

// TierStore persists the last resolved tier per session. A missing session
// reads as tier 1.
type TierStore interface {
	LastTier(ctx context.Context, session string) (int, error)
	SetLastTier(ctx context.Context, session string, tier int) error
}

// Input carries the per-request signals the sequence needs beyond the
// request body itself.
type Input struct {
	// LocalBusy is true when the local backend's single slot already has a
	// request in flight.
	LocalBusy bool
	// RequestChars is the total character length of the request content,
	// compared against the tier's budget with 20% slack.
	RequestChars int
}

// Engine evaluates the routing sequence.
type Engine struct {
	cfg        Config
	classifier Classifier
	store      TierStore
	budget     func(tier int) int

	lowestRemote int // 0 when no remote tier is configured
	allTierOne   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier sets the intent classifier. Without one, classification
// always yields simple_code.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithTierStore sets the session tier store. Defaults to an in-memory store.
func WithTierStore(s TierStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithBudget sets the per-tier character budget used by the context-overflow
// check. Without one, the check is disabled.
func WithBudget(fn func(tier int) int) Option {
	return func(e *Engine) { e.budget = fn }
}

// NewEngine builds an engine over the tier configuration.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, store: NewMemStore()}
	for _, opt := range opts {
		opt(e)
	}

	e.allTierOne = true
	for _, tier := range cfg.Intents {
		if tier != MinTier {
			e.allTierOne = false
			break
		}
	}

	tiers := make([]int, 0, len(cfg.Targets))
	for t := range cfg.Targets {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)
	for _, t := range tiers {
		if cfg.Targets[t].Remote {
			e.lowestRemote = t
			break
		}
	}
	return e
}

// Decide runs the decision sequence for one request.
func (e *Engine) Decide(ctx context.Context, req *wire.MessagesRequest, in Input) Decision {
	session := SessionID(req)
	d := Decision{SessionID: session, Tier: MinTier, Reason: ReasonCheapPath}

	if !e.allTierOne {
		d.Intent = e.classify(ctx, req)
		d.Reason = ReasonIntent
		d.Tier = e.resolveTier(ctx, session, d.Intent)
		if d.Intent == IntentTryAgain {
			d.Reason = ReasonEscalation
		}
	}

	if err := e.store.SetLastTier(ctx, session, d.Tier); err != nil {
		log.Warn().Err(err).Str("session", session).Msg("routing: persist last tier failed")
	}

	e.applyTarget(&d)

	// Overrides below are independent of intent and only divert local
	// targets; a remote decision already satisfies both.
	if !d.Remote && in.LocalBusy && e.lowestRemote > 0 {
		d.Tier = e.lowestRemote
		d.Reason = ReasonOverflowBusy
		e.applyTarget(&d)
	}
	if !d.Remote && e.overflows(d.Tier, in.RequestChars) && e.lowestRemote > 0 {
		d.Tier = e.lowestRemote
		d.Reason = ReasonContextOverflow
		e.applyTarget(&d)
	}

	log.Debug().
		Str("session", session).
		Str("intent", string(d.Intent)).
		Int("tier", d.Tier).
		Bool("remote", d.Remote).
		Str("reason", d.Reason).
		Msg("routing: decision")
	return d
}

func (e *Engine) classify(ctx context.Context, req *wire.MessagesRequest) IntentCategory {
	if e.classifier == nil {
		return IntentSimpleCode
	}
	text := LatestUserText(req)
	if text == "" {
		return IntentSimpleCode
	}
	cat, err := e.classifier.Classify(ctx, text)
	if err != nil {
		log.Debug().Err(err).Msg("routing: classification failed, defaulting to simple_code")
		return IntentSimpleCode
	}
	return cat
}

// resolveTier maps a category to a tier. try_again escalates from the
// session's last tier instead of using a fixed mapping.
func (e *Engine) resolveTier(ctx context.Context, session string, cat IntentCategory) int {
	if cat == IntentTryAgain {
		last, err := e.store.LastTier(ctx, session)
		if err != nil || last < MinTier {
			last = MinTier
		}
		if last >= MaxTier {
			return MaxTier
		}
		return last + 1
	}
	if tier, ok := e.cfg.Intents[cat]; ok && tier >= MinTier && tier <= MaxTier {
		return tier
	}
	return MinTier
}

func (e *Engine) applyTarget(d *Decision) {
	t, ok := e.cfg.Targets[d.Tier]
	if !ok {
		d.Remote = false
		d.RemoteModel = ""
		return
	}
	d.Remote = t.Remote
	d.RemoteModel = t.RemoteModel
}

func (e *Engine) overflows(tier, chars int) bool {
	if e.budget == nil || chars <= 0 {
		return false
	}
	b := e.budget(tier)
	if b <= 0 {
		return false
	}
	return chars*100 > b*120
}

// SessionID derives a stable conversation id from the first user message.
// Requests with no user text share the "default" session.
func SessionID(req *wire.MessagesRequest) string {
	for _, msg := range req.Messages {
		if msg.Role != "user" {
			continue
		}
		text := messageText(msg)
		if text == "" {
			continue
		}
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:8])
	}
	return "default"
}

// LatestUserText walks messages backward and returns the newest user-authored
// text, truncated for classification. Assistant messages and user messages
// that carry only tool results are skipped.
func LatestUserText(req *wire.MessagesRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != "user" {
			continue
		}
		text := messageText(msg)
		if text == "" {
			continue
		}
		if len(text) > config.DefaultClassifyMaxChars {
			text = text[:config.DefaultClassifyMaxChars]
		}
		return text
	}
	return ""
}

// messageText concatenates a message's text blocks, ignoring tool blocks.
func messageText(msg wire.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == wire.BlockText && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n")
}

// MemStore is the in-memory TierStore used when no persistent store is wired.
type MemStore struct {
	mu    sync.Mutex
	tiers map[string]int
}

// NewMemStore returns an empty in-memory tier store.
func NewMemStore() *MemStore {
	return &MemStore{tiers: make(map[string]int)}
}

func (s *MemStore) LastTier(_ context.Context, session string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tiers[session]; ok {
		return t, nil
	}
	return MinTier, nil
}

func (s *MemStore) SetLastTier(_ context.Context, session string, tier int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[session] = tier
	return nil
}
