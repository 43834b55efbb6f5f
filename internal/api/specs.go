package api

import (
	"strconv"

	"github.com/rickgao/exchange-gateway/internal/request"
)

// TickersSpec requests every spot ticker.
func TickersSpec(p request.Priority) request.Spec {
	return request.New(RouteTickers, request.ClassTicker, p)
}

// TickerSpec requests the ticker of one symbol.
func TickerSpec(symbol string, p request.Priority) request.Spec {
	return request.New(RouteTickers, request.ClassTicker, p, request.Param{Key: "symbol", Value: symbol})
}

// SymbolsSpec requests the spot symbol list.
func SymbolsSpec(p request.Priority) request.Spec {
	return request.New(RouteSymbols, request.ClassSymbolList, p)
}

// CandlesSpec requests the latest limit candles of symbol at granularity (e.g. "1min").
func CandlesSpec(symbol, granularity string, limit int, p request.Priority) request.Spec {
	params := []request.Param{
		{Key: "symbol", Value: symbol},
		{Key: "granularity", Value: granularity},
	}
	if limit > 0 {
		params = append(params, request.Param{Key: "limit", Value: strconv.Itoa(limit)})
	}
	return request.New(RouteCandles, request.ClassCandles, p, params...)
}

// AssetsSpec requests account balances, optionally for one coin. It is a
// signed request and is never cached.
func AssetsSpec(coin string) request.Spec {
	var params []request.Param
	if coin != "" {
		params = append(params, request.Param{Key: "coin", Value: coin})
	}
	return request.New(RouteAssets, request.ClassAccount, request.Interactive, params...).Private()
}
