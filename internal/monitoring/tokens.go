// Package monitoring - tokens.go estimates token counts for telemetry.
//
// Routing and budget decisions are character-based on purpose; these
// estimates only feed logs, metrics, and the stats endpoint.
package monitoring

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the fallback ratio when no encoding is available.
const charsPerToken = 4

// TokenEstimator counts tokens with a tiktoken encoding, falling back to a
// character heuristic when the encoding cannot be loaded (offline, unknown
// encoding name).
type TokenEstimator struct {
	once     sync.Once
	encoding string
	tke      *tiktoken.Tiktoken
}

// NewTokenEstimator creates an estimator for the given encoding name. The
// encoding is loaded lazily on first use.
func NewTokenEstimator(encoding string) *TokenEstimator {
	return &TokenEstimator{encoding: encoding}
}

// Estimate returns the token count of the text.
func (e *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		tke, err := tiktoken.GetEncoding(e.encoding)
		if err != nil {
			log.Warn().Err(err).Str("encoding", e.encoding).
				Msg("monitoring: tiktoken unavailable, using char heuristic")
			return
		}
		e.tke = tke
	})
	if e.tke == nil {
		return (len(text) + charsPerToken - 1) / charsPerToken
	}
	return len(e.tke.Encode(text, nil, nil))
}
