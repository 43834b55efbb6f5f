package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/exchange-gateway/internal/model"
)

// ParseDecimal parses an exchange number string.
// Returns zero for empty or invalid input.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMillis parses a millisecond timestamp string. Returns 0 for invalid input.
func ParseMillis(s string) int64 {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

// unwrap decodes the envelope and returns its data, turning a non-success
// code into an *APIError.
func unwrap(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Code != "" && string(env.Code) != SuccessCode {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			Code:       string(env.Code),
			Message:    env.Msg,
			Body:       body,
		}
	}
	return env.Data, nil
}

func decodeData[T any](body []byte, what string) (T, error) {
	var out T
	data, err := unwrap(body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return out, nil
}

// DecodeTickers decodes a /market/tickers reply.
func DecodeTickers(body []byte) ([]model.Ticker, error) {
	raw, err := decodeData[[]APITicker](body, "tickers")
	if err != nil {
		return nil, err
	}
	out := make([]model.Ticker, len(raw))
	for i := range raw {
		out[i] = raw[i].ToModel()
	}
	return out, nil
}

// DecodeSymbols decodes a /public/symbols reply.
func DecodeSymbols(body []byte) ([]model.Symbol, error) {
	raw, err := decodeData[[]APISymbol](body, "symbols")
	if err != nil {
		return nil, err
	}
	out := make([]model.Symbol, len(raw))
	for i := range raw {
		out[i] = raw[i].ToModel()
	}
	return out, nil
}

// DecodeCandles decodes a /market/candles reply. Rows shorter than six
// columns are rejected.
func DecodeCandles(body []byte) ([]model.Candle, error) {
	raw, err := decodeData[[]APICandle](body, "candles")
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(raw))
	for i, row := range raw {
		c, err := row.ToModel()
		if err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// DecodeBalances decodes an /account/assets reply.
func DecodeBalances(body []byte) ([]model.Balance, error) {
	raw, err := decodeData[[]APIAsset](body, "assets")
	if err != nil {
		return nil, err
	}
	out := make([]model.Balance, len(raw))
	for i := range raw {
		out[i] = raw[i].ToModel()
	}
	return out, nil
}

// ToModel converts an APITicker to model.Ticker.
func (t *APITicker) ToModel() model.Ticker {
	return model.Ticker{
		Symbol:      t.Symbol,
		Last:        ParseDecimal(t.LastPr),
		Bid:         ParseDecimal(t.BidPr),
		Ask:         ParseDecimal(t.AskPr),
		Open24h:     ParseDecimal(t.Open),
		High24h:     ParseDecimal(t.High24h),
		Low24h:      ParseDecimal(t.Low24h),
		BaseVolume:  ParseDecimal(t.BaseVolume),
		QuoteVolume: ParseDecimal(t.QuoteVolume),
		Change24h:   ParseDecimal(t.Change24h),
		Timestamp:   ParseMillis(t.Ts),
	}
}

// ToModel converts an APISymbol to model.Symbol.
func (s *APISymbol) ToModel() model.Symbol {
	pp, _ := strconv.Atoi(s.PricePrecision)
	qp, _ := strconv.Atoi(s.QuantityPrecision)
	return model.Symbol{
		Symbol:            s.Symbol,
		BaseCoin:          s.BaseCoin,
		QuoteCoin:         s.QuoteCoin,
		Status:            s.Status,
		MinTradeAmount:    ParseDecimal(s.MinTradeAmount),
		PricePrecision:    pp,
		QuantityPrecision: qp,
	}
}

// ToModel converts an APICandle row to model.Candle.
func (c APICandle) ToModel() (model.Candle, error) {
	if len(c) < 6 {
		return model.Candle{}, fmt.Errorf("expected at least 6 columns, got %d", len(c))
	}
	out := model.Candle{
		OpenTime:   ParseMillis(c[0]),
		Open:       ParseDecimal(c[1]),
		High:       ParseDecimal(c[2]),
		Low:        ParseDecimal(c[3]),
		Close:      ParseDecimal(c[4]),
		BaseVolume: ParseDecimal(c[5]),
	}
	if len(c) >= 8 {
		out.QuoteVolume = ParseDecimal(c[7])
	}
	return out, nil
}

// ToModel converts an APIAsset to model.Balance.
func (a *APIAsset) ToModel() model.Balance {
	return model.Balance{
		Coin:      a.Coin,
		Available: ParseDecimal(a.Available),
		Frozen:    ParseDecimal(a.Frozen),
		Locked:    ParseDecimal(a.Locked),
		UpdatedAt: ParseMillis(a.UTime),
	}
}
