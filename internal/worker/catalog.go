package worker

import (
	"sort"

	"github.com/rickgao/exchange-gateway/internal/api"
	"github.com/rickgao/exchange-gateway/internal/request"
)

// Job kinds in the default catalog.
const (
	KindTickers    = "tickers"
	KindSymbols    = "symbols"
	KindTopTickers = "top-tickers"
	KindCandles    = "candles"
)

// JobFunc builds the requests one run of a job submits.
type JobFunc func() []request.Spec

// Catalog maps job kinds to their builders.
type Catalog map[string]JobFunc

// Kinds returns the registered kinds, sorted.
func (c Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c))
	for k := range c {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DefaultCatalog returns the refresh jobs the gateway knows about.
// topSymbols feeds the per-symbol jobs.
func DefaultCatalog(topSymbols []string) Catalog {
	symbols := append([]string(nil), topSymbols...)

	return Catalog{
		KindTickers: func() []request.Spec {
			return []request.Spec{
				api.TickersSpec(request.Background),
			}
		},
		KindSymbols: func() []request.Spec {
			return []request.Spec{
				api.SymbolsSpec(request.Background),
			}
		},
		KindTopTickers: func() []request.Spec {
			specs := make([]request.Spec, 0, len(symbols))
			for _, s := range symbols {
				specs = append(specs, api.TickerSpec(s, request.Background))
			}
			return specs
		},
		KindCandles: func() []request.Spec {
			specs := make([]request.Spec, 0, len(symbols))
			for _, s := range symbols {
				specs = append(specs, api.CandlesSpec(s, "1min", 100, request.Background))
			}
			return specs
		},
	}
}
