package entity

// DailyCandle is one day of OHLCV data as returned by the provider.
// Dates are fixed-width ISO strings (YYYY-MM-DD) so that range filtering and
// ordering can rely on plain string comparison.
//
// The OHLC ordering invariant (low <= open/close <= high) is expected but not
// enforced: provider data may violate it and the pipeline only checks field
// presence.
type DailyCandle struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume *int64 // nil when the provider omits the field

	// Optional fields only present in adjusted daily payloads.
	AdjustedClose    *float64
	DividendAmount   *float64
	SplitCoefficient *float64
}

// IntradayCandle is a sub-daily bar keyed by a "YYYY-MM-DD HH:MM:SS"
// timestamp. Intraday candles are ephemeral: they are folded into daily bars
// by the aggregator and never persisted directly.
type IntradayCandle struct {
	TS     string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume *int64
}

// OhlcvRow is the persisted form of a daily bar. It carries both the
// instrument id and the denormalized display symbol so that data fetched via
// a proxy symbol is still stored under the original identity. At most one row
// exists per (instrument_id, date), enforced by upsert-on-conflict.
type OhlcvRow struct {
	InstrumentID     uint
	InstrumentSymbol string
	Date             string
	Open             float64
	High             float64
	Low              float64
	Close            float64
	Volume           int64
}
