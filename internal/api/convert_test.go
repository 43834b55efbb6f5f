package api

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0.52", "0.52"},
		{"64123.5", "64123.5"},
		{"  1.00  ", "1"},
		{"", "0"},
		{"invalid", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDecimal(tt.input)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseDecimal(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecodeTickers(t *testing.T) {
	body := []byte(`{"code":"00000","msg":"success","requestTime":1700000000000,"data":[
		{"symbol":"BTCUSDT","open":"64000","high24h":"65000","low24h":"63000","lastPr":"64500.5",
		 "bidPr":"64500","askPr":"64501","baseVolume":"1200.5","quoteVolume":"77000000","change24h":"0.0078","ts":"1700000000123"}
	]}`)

	tickers, err := DecodeTickers(body)
	if err != nil {
		t.Fatalf("DecodeTickers: %v", err)
	}
	if len(tickers) != 1 {
		t.Fatalf("len = %d, want 1", len(tickers))
	}

	tk := tickers[0]
	if tk.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q", tk.Symbol)
	}
	if !tk.Last.Equal(decimal.RequireFromString("64500.5")) {
		t.Errorf("Last = %s", tk.Last)
	}
	if !tk.Spread().Equal(decimal.NewFromInt(1)) {
		t.Errorf("Spread = %s, want 1", tk.Spread())
	}
	if tk.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d", tk.Timestamp)
	}
}

func TestDecodeSymbols(t *testing.T) {
	body := []byte(`{"code":"00000","data":[
		{"symbol":"ETHUSDT","baseCoin":"ETH","quoteCoin":"USDT","minTradeAmount":"0.001",
		 "pricePrecision":"2","quantityPrecision":"4","status":"online"}
	]}`)

	symbols, err := DecodeSymbols(body)
	if err != nil {
		t.Fatalf("DecodeSymbols: %v", err)
	}
	s := symbols[0]
	if s.BaseCoin != "ETH" || s.QuoteCoin != "USDT" || !s.Online() {
		t.Errorf("unexpected symbol %+v", s)
	}
	if s.PricePrecision != 2 || s.QuantityPrecision != 4 {
		t.Errorf("precision = %d/%d, want 2/4", s.PricePrecision, s.QuantityPrecision)
	}
}

func TestDecodeCandles(t *testing.T) {
	t.Run("valid rows", func(t *testing.T) {
		body := []byte(`{"code":"00000","data":[
			["1700000000000","1","2","0.5","1.5","100","150","150"],
			["1700000060000","1.5","2.5","1.4","2","80","160","160"]
		]}`)

		candles, err := DecodeCandles(body)
		if err != nil {
			t.Fatalf("DecodeCandles: %v", err)
		}
		if len(candles) != 2 {
			t.Fatalf("len = %d, want 2", len(candles))
		}
		if candles[1].OpenTime != 1700000060000 || !candles[1].Close.Equal(decimal.NewFromInt(2)) {
			t.Errorf("unexpected candle %+v", candles[1])
		}
		if !candles[0].QuoteVolume.Equal(decimal.NewFromInt(150)) {
			t.Errorf("QuoteVolume = %s", candles[0].QuoteVolume)
		}
	})

	t.Run("short row", func(t *testing.T) {
		_, err := DecodeCandles([]byte(`{"code":"00000","data":[["1","2"]]}`))
		if err == nil {
			t.Fatal("expected error for short row")
		}
	})
}

func TestDecodeBalances(t *testing.T) {
	body := []byte(`{"code":"00000","data":[{"coin":"USDT","available":"100.5","frozen":"1","locked":"0","uTime":"1700000000000"}]}`)

	balances, err := DecodeBalances(body)
	if err != nil {
		t.Fatalf("DecodeBalances: %v", err)
	}
	if !balances[0].Total().Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("Total = %s", balances[0].Total())
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("non-success envelope code", func(t *testing.T) {
		_, err := DecodeTickers([]byte(`{"code":"40001","msg":"bad symbol","data":null}`))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.Code != "40001" {
			t.Errorf("Code = %q", apiErr.Code)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		if _, err := DecodeSymbols([]byte(`{not json`)); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("wrong data shape", func(t *testing.T) {
		if _, err := DecodeTickers([]byte(`{"code":"00000","data":{"symbol":"x"}}`)); err == nil {
			t.Fatal("expected error")
		}
	})
}
