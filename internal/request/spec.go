package request

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Priority orders work inside the request queue and selects the retry budget.
type Priority int

const (
	// Interactive requests come from a caller that is waiting on the result.
	Interactive Priority = iota
	// Background requests come from scheduled refresh jobs.
	Background
)

func (p Priority) String() string {
	switch p {
	case Interactive:
		return "interactive"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Cache classes used by the typed fetch operations.
const (
	ClassTicker     = "ticker"
	ClassSymbolList = "symbol-list"
	ClassCandles    = "candles"
	ClassAccount    = "account"
)

// Param is a single query parameter.
type Param struct {
	Key   string
	Value string
}

// Spec is an immutable description of one logical outbound call.
type Spec struct {
	route      string
	params     []Param
	cacheClass string
	priority   Priority
	private    bool

	fingerprint string
}

// New builds a Spec. Parameters are copied and canonicalized (sorted by key,
// then value) so that ordering never changes the fingerprint.
func New(route string, cacheClass string, priority Priority, params ...Param) Spec {
	cp := make([]Param, len(params))
	copy(cp, params)
	sort.SliceStable(cp, func(i, j int) bool {
		if cp[i].Key != cp[j].Key {
			return cp[i].Key < cp[j].Key
		}
		return cp[i].Value < cp[j].Value
	})

	s := Spec{
		route:      route,
		params:     cp,
		cacheClass: cacheClass,
		priority:   priority,
	}
	s.fingerprint = computeFingerprint(route, cp)
	return s
}

// Private returns a copy of s that must be signed with account credentials.
func (s Spec) Private() Spec {
	s.private = true
	return s
}

// WithPriority returns a copy of s with a different priority. The fingerprint
// is unchanged.
func (s Spec) WithPriority(p Priority) Spec {
	s.priority = p
	return s
}

func (s Spec) Route() string      { return s.route }
func (s Spec) CacheClass() string { return s.cacheClass }
func (s Spec) Priority() Priority { return s.priority }
func (s Spec) IsPrivate() bool    { return s.private }

// Params returns a copy of the canonical parameter list.
func (s Spec) Params() []Param {
	cp := make([]Param, len(s.params))
	copy(cp, s.params)
	return cp
}

// Query returns the parameters as url.Values.
func (s Spec) Query() url.Values {
	if len(s.params) == 0 {
		return nil
	}
	q := make(url.Values, len(s.params))
	for _, p := range s.params {
		q.Add(p.Key, p.Value)
	}
	return q
}

// Fingerprint returns the stable hash of route and canonical parameters.
func (s Spec) Fingerprint() string {
	return s.fingerprint
}

// String renders the canonical request line, e.g. "/market/tickers?symbol=BTCUSDT".
func (s Spec) String() string {
	return canonical(s.route, s.params)
}

func canonical(route string, params []Param) string {
	var b strings.Builder
	b.WriteString(route)
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

func computeFingerprint(route string, params []Param) string {
	sum := sha256.Sum256([]byte(canonical(route, params)))
	return hex.EncodeToString(sum[:16])
}
