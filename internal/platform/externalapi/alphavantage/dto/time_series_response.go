// Package dto defines the data transfer objects for Alpha Vantage API responses.
package dto

// Envelope carries the out-of-band failure fields Alpha Vantage embeds in a
// 200-status JSON body. Exactly one of them is set on a failed call; all are
// empty on success.
type Envelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

// DailyResponse is the TIME_SERIES_DAILY payload. Series entries are keyed by
// date (YYYY-MM-DD).
type DailyResponse struct {
	Envelope
	TimeSeries map[string]DailyFields `json:"Time Series (Daily)"`
}

// DailyFields holds the per-date values of a daily series. The adjusted
// fields are only present in TIME_SERIES_DAILY_ADJUSTED payloads, where the
// volume moves from "5. volume" to "6. volume".
type DailyFields struct {
	Open             string `json:"1. open"`
	High             string `json:"2. high"`
	Low              string `json:"3. low"`
	Close            string `json:"4. close"`
	Volume           string `json:"5. volume"`
	AdjustedClose    string `json:"5. adjusted close"`
	AdjustedVolume   string `json:"6. volume"`
	DividendAmount   string `json:"7. dividend amount"`
	SplitCoefficient string `json:"8. split coefficient"`
}

// DigitalCurrencyDailyResponse is the DIGITAL_CURRENCY_DAILY payload.
type DigitalCurrencyDailyResponse struct {
	Envelope
	TimeSeries map[string]DigitalCurrencyFields `json:"Time Series (Digital Currency Daily)"`
}

// DigitalCurrencyFields holds the per-date values of a crypto daily series.
// Two key-naming schemes have been observed for USD fields ("1a."/"1b."
// suffixed), and some pairs come back in the plain equity-style scheme; the
// adapter prefers the first non-empty value across the alternatives.
type DigitalCurrencyFields struct {
	OpenUSDA  string `json:"1a. open (USD)"`
	OpenUSDB  string `json:"1b. open (USD)"`
	HighUSDA  string `json:"2a. high (USD)"`
	HighUSDB  string `json:"2b. high (USD)"`
	LowUSDA   string `json:"3a. low (USD)"`
	LowUSDB   string `json:"3b. low (USD)"`
	CloseUSDA string `json:"4a. close (USD)"`
	CloseUSDB string `json:"4b. close (USD)"`

	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// IntradayFields holds the per-timestamp values of an intraday series
// (TIME_SERIES_INTRADAY and CRYPTO_INTRADAY share this scheme). The series
// key itself depends on the requested interval, so the response envelope is
// decoded separately by the adapter.
type IntradayFields struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}
