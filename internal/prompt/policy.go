// Package prompt owns the prompt-shrinking policy: how an oversized client
// system prompt is reduced to fit a tier's character budget, and the per-tier
// budget/ceiling numbers themselves.
//
// DESIGN: The reduction rules are a swappable policy behind the Policy
// interface; the translation core only needs "a smaller string plus a
// character budget" back. TrimPolicy is the shipped default.
package prompt

import (
	"regexp"
	"strings"
)

// Policy shrinks system prompts and answers budget questions per tier.
type Policy interface {
	// Reduce returns a system prompt no longer than necessary for the tier.
	Reduce(systemPrompt string, tier int) string
	// CharBudget is the total request character budget for the tier.
	CharBudget(tier int) int
	// MaxTokens is the generation ceiling for the tier.
	MaxTokens(tier int) int
}

// Per-tier defaults. Tier 1 is the small local model; tiers 2 and 3 are remote.
// Budgets are characters, not tokens. The gateway never counts tokens
// exactly.
var (
	defaultCharBudgets = map[int]int{1: 24000, 2: 120000, 3: 400000}
	defaultMaxTokens   = map[int]int{1: 1024, 2: 4096, 3: 8192}
)

// TrimPolicy is the default reduction policy: it drops known low-value
// sections of an agentic system prompt, cutting harder at lower tiers, then
// hard-truncates to a fraction of the tier budget as a last resort.
type TrimPolicy struct {
	CharBudgets map[int]int
	TokenCaps   map[int]int
}

// NewTrimPolicy returns a TrimPolicy with the default budgets.
func NewTrimPolicy() *TrimPolicy {
	return &TrimPolicy{CharBudgets: defaultCharBudgets, TokenCaps: defaultMaxTokens}
}

// Sections dropped for all tiers below 3, identified by their markdown
// headers. These are verbose instruction blocks small models ignore anyway.
var droppableSections = []string{
	"# Tone and style",
	"# Proactiveness",
	"# Following conventions",
	"# Code style",
	"## Professional objectivity",
	"# Task Management",
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^#{1,3} `)

// Reduce shrinks the system prompt for the tier. Tier 3 gets the prompt
// unchanged; lower tiers lose droppable sections; tier 1 is additionally
// hard-capped at half its character budget so tool docs and history fit.
func (p *TrimPolicy) Reduce(systemPrompt string, tier int) string {
	if tier >= 3 {
		return systemPrompt
	}

	reduced := systemPrompt
	for _, header := range droppableSections {
		reduced = dropSection(reduced, header)
	}

	if tier <= 1 {
		if cap := p.CharBudget(tier) / 2; len(reduced) > cap {
			reduced = reduced[:cap]
		}
	}
	return reduced
}

// CharBudget returns the tier's request character budget.
func (p *TrimPolicy) CharBudget(tier int) int {
	if b, ok := p.CharBudgets[tier]; ok {
		return b
	}
	return defaultCharBudgets[1]
}

// MaxTokens returns the tier's generation ceiling.
func (p *TrimPolicy) MaxTokens(tier int) int {
	if c, ok := p.TokenCaps[tier]; ok {
		return c
	}
	return defaultMaxTokens[1]
}

// dropSection removes the section starting at header up to (not including)
// the next header of any level, or end of text.
func dropSection(s, header string) string {
	start := strings.Index(s, header)
	if start < 0 {
		return s
	}
	rest := s[start+len(header):]
	loc := sectionHeaderRe.FindStringIndex(rest)
	if loc == nil {
		return strings.TrimRight(s[:start], "\n")
	}
	return s[:start] + rest[loc[0]:]
}
