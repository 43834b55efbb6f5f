package api

import (
	"bytes"
	"encoding/json"
)

// Routes served by the gateway.
const (
	RouteTickers = "/api/v2/spot/market/tickers"
	RouteSymbols = "/api/v2/spot/public/symbols"
	RouteCandles = "/api/v2/spot/market/candles"
	RouteAssets  = "/api/v2/spot/account/assets"
)

// SuccessCode is the envelope code of a successful reply.
const SuccessCode = "00000"

// envelope wraps every reply: {"code":"00000","msg":"success","requestTime":..,"data":..}
type envelope struct {
	Code        flexCode        `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

// flexCode accepts the envelope code as either a JSON string or number.
type flexCode string

func (f *flexCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexCode(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexCode(b)
	return nil
}

type envelopeHead struct {
	Code string
	Msg  string
}

// peekEnvelope extracts code and msg, ignoring bodies that are not envelopes.
func peekEnvelope(body []byte) envelopeHead {
	var env struct {
		Code flexCode `json:"code"`
		Msg  string   `json:"msg"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return envelopeHead{}
	}
	return envelopeHead{Code: string(env.Code), Msg: env.Msg}
}

// APITicker from GET /market/tickers
type APITicker struct {
	Symbol      string `json:"symbol"`
	Open        string `json:"open"`
	High24h     string `json:"high24h"`
	Low24h      string `json:"low24h"`
	LastPr      string `json:"lastPr"`
	BidPr       string `json:"bidPr"`
	AskPr       string `json:"askPr"`
	BaseVolume  string `json:"baseVolume"`
	QuoteVolume string `json:"quoteVolume"`
	Change24h   string `json:"change24h"`
	Ts          string `json:"ts"`
}

// APISymbol from GET /public/symbols
type APISymbol struct {
	Symbol            string `json:"symbol"`
	BaseCoin          string `json:"baseCoin"`
	QuoteCoin         string `json:"quoteCoin"`
	MinTradeAmount    string `json:"minTradeAmount"`
	PricePrecision    string `json:"pricePrecision"`
	QuantityPrecision string `json:"quantityPrecision"`
	Status            string `json:"status"`
}

// APICandle from GET /market/candles:
// [ts, open, high, low, close, baseVolume, usdtVolume, quoteVolume]
type APICandle []string

// APIAsset from GET /account/assets
type APIAsset struct {
	Coin      string `json:"coin"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
	Locked    string `json:"locked"`
	UTime     string `json:"uTime"`
}
