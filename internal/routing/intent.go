package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/tierleap/tier-gateway/internal/wire"
)

// Completer is the slice of the backend client the classifier needs.
type Completer interface {
	Complete(ctx context.Context, req *wire.ChatRequest) (*wire.ChatResponse, error)
}

// classifySystemPrompt constrains the model to a single label so the reply
// can be matched verbatim. Deterministic sampling keeps repeated
// classifications of the same text stable.
const classifySystemPrompt = `You are a request classifier. Read the user message and answer with exactly one of these labels and nothing else:

chit_chat - greetings, small talk, thanks, anything not about code or a technical task
simple_code - a routine coding task: read, edit, run, search, small fixes
hard_question - a hard design, debugging, or architecture question needing deep reasoning
try_again - the user is unhappy with the previous answer and wants a better one`

// LocalClassifier asks the local backend to label the latest user text.
type LocalClassifier struct {
	client Completer
	model  string
}

// NewLocalClassifier builds a classifier over the given backend client.
func NewLocalClassifier(client Completer, model string) *LocalClassifier {
	return &LocalClassifier{client: client, model: model}
}

// Classify sends one constrained chat call and matches the reply against the
// known labels. Any transport error, empty reply, or unrecognized label is
// returned as an error; the engine maps those to simple_code.
func (c *LocalClassifier) Classify(ctx context.Context, text string) (IntentCategory, error) {
	resp, err := c.client.Complete(ctx, &wire.ChatRequest{
		Model: c.model,
		Messages: []wire.ChatMessage{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   8,
		Temperature: 0,
		TopP:        1,
	})
	if err != nil {
		return "", fmt.Errorf("classify call: %w", err)
	}
	return ParseIntent(resp.Text())
}

// IntentCache remembers classifications keyed by the classified text.
type IntentCache interface {
	CachedIntent(ctx context.Context, text string) (string, bool)
	SetCachedIntent(ctx context.Context, text, intent string) error
}

// CachingClassifier wraps a classifier with a read-through cache. Repeated
// classification of identical text (retried requests, resent history) skips
// the backend call.
type CachingClassifier struct {
	inner Classifier
	cache IntentCache
	onHit func()
}

// NewCachingClassifier wraps inner with the given cache.
func NewCachingClassifier(inner Classifier, cache IntentCache) *CachingClassifier {
	return &CachingClassifier{inner: inner, cache: cache}
}

// OnCacheHit registers a callback invoked once per cache hit. Used to feed
// the metrics counter without coupling routing to the collector.
func (c *CachingClassifier) OnCacheHit(fn func()) {
	c.onHit = fn
}

// Classify consults the cache first and records fresh verdicts. Cache write
// failures are ignored; the verdict still stands.
func (c *CachingClassifier) Classify(ctx context.Context, text string) (IntentCategory, error) {
	if cached, ok := c.cache.CachedIntent(ctx, text); ok {
		if cat, err := ParseIntent(cached); err == nil {
			if c.onHit != nil {
				c.onHit()
			}
			return cat, nil
		}
	}
	cat, err := c.inner.Classify(ctx, text)
	if err != nil {
		return "", err
	}
	_ = c.cache.SetCachedIntent(ctx, text, string(cat))
	return cat, nil
}

// ParseIntent finds the first known label in the model's reply. Small models
// sometimes echo punctuation or a short preamble around the label, so this
// is a containment match rather than an equality check.
func ParseIntent(reply string) (IntentCategory, error) {
	reply = strings.ToLower(strings.TrimSpace(reply))
	if reply == "" {
		return "", fmt.Errorf("empty classification reply")
	}
	for _, cat := range []IntentCategory{IntentChitChat, IntentSimpleCode, IntentHardQuestion, IntentTryAgain} {
		if strings.Contains(reply, string(cat)) {
			return cat, nil
		}
	}
	return "", fmt.Errorf("unrecognized classification reply %q", reply)
}
