package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"stock_ingest/internal/feature/ingest/domain"
	"stock_ingest/internal/feature/ingest/domain/entity"
	"stock_ingest/internal/feature/ingest/usecase"
	"stock_ingest/internal/platform/externalapi/alphavantage/dto"
)

// compactWindowDays 以内の開始日であれば、直近データのみの小さいペイロード
// （outputsize=compact）で十分です。
const compactWindowDays = 100

// AlphaVantageMarket はAlpha Vantage APIから価格データを取得するMarketRepository実装です。
// 暗号資産ペアとそれ以外でアップストリームの関数を切り替え、複数のペイロード
// 形式を共通のローソク足表現に正規化します。
type AlphaVantageMarket struct {
	cfg    Config
	client *http.Client
}

// AlphaVantageMarketがMarketRepositoryを実装していることをコンパイル時に検証します。
var _ usecase.MarketRepository = (*AlphaVantageMarket)(nil)

// NewAlphaVantageMarket は指定された設定とHTTPクライアントでAlphaVantageMarketの新しいインスタンスを生成します。
func NewAlphaVantageMarket(cfg Config, client *http.Client) *AlphaVantageMarket {
	return &AlphaVantageMarket{cfg: cfg, client: client}
}

// FetchDaily は [since, until]（両端含む）の日足を昇順で返します。
// 暗号資産ペア（例: BTC-USD）はDIGITAL_CURRENCY_DAILY、それ以外は
// TIME_SERIES_DAILYにディスパッチします。
func (a *AlphaVantageMarket) FetchDaily(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
	if usecase.IsCryptoPair(symbol) {
		return a.fetchCryptoDaily(ctx, symbol, since, until)
	}
	return a.fetchEquityDaily(ctx, symbol, since, until)
}

// FetchIntraday は [sinceTS, untilTS]（両端含む）の日中足を昇順で返します。
func (a *AlphaVantageMarket) FetchIntraday(ctx context.Context, symbol, interval, sinceTS, untilTS string) ([]entity.IntradayCandle, error) {
	q := url.Values{}
	var seriesKey string

	if usecase.IsCryptoPair(symbol) {
		base, quote := splitCryptoPair(symbol)
		q.Set("function", "CRYPTO_INTRADAY")
		q.Set("symbol", base)
		q.Set("market", quote)
		seriesKey = fmt.Sprintf("Time Series Crypto (%s)", interval)
	} else {
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("symbol", symbol)
		// compactで直近約100本。日中足は集約して日足を作るだけなので十分
		q.Set("outputsize", "compact")
		seriesKey = fmt.Sprintf("Time Series (%s)", interval)
	}
	q.Set("interval", interval)
	q.Set("apikey", a.cfg.APIKey)

	body, err := a.get(ctx, q)
	if err != nil {
		return nil, err
	}

	var envelope dto.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if err := classifyEnvelope(envelope); err != nil {
		return nil, err
	}

	// シリーズのキー名はintervalに依存するため、トップレベルを一度rawで受ける
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}
	raw, ok := top[seriesKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q in payload", domain.ErrUpstream, seriesKey)
	}
	var series map[string]dto.IntradayFields
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, err
	}

	candles := make([]entity.IntradayCandle, 0, len(series))
	for ts, v := range series {
		if v.Open == "" || v.High == "" || v.Low == "" || v.Close == "" {
			slog.Warn("skipping intraday candle with missing OHLC data", "symbol", symbol, "ts", ts)
			continue
		}
		c, err := parseIntraday(ts, v)
		if err != nil {
			slog.Warn("skipping unparseable intraday candle", "symbol", symbol, "ts", ts, "error", err)
			continue
		}
		if (sinceTS != "" && c.TS < sinceTS) || (untilTS != "" && c.TS > untilTS) {
			continue
		}
		candles = append(candles, c)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].TS < candles[j].TS })
	return candles, nil
}

// fetchEquityDaily は株式・ETF向けのTIME_SERIES_DAILYを取得します。
func (a *AlphaVantageMarket) fetchEquityDaily(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("outputsize", outputSize(since, time.Now()))
	q.Set("apikey", a.cfg.APIKey)

	body, err := a.get(ctx, q)
	if err != nil {
		return nil, err
	}

	var res dto.DailyResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if err := classifyEnvelope(res.Envelope); err != nil {
		return nil, err
	}
	if res.TimeSeries == nil {
		return nil, fmt.Errorf("%w: missing %q in payload", domain.ErrUpstream, "Time Series (Daily)")
	}

	candles := make([]entity.DailyCandle, 0, len(res.TimeSeries))
	for date, v := range res.TimeSeries {
		if v.Open == "" || v.High == "" || v.Low == "" || v.Close == "" {
			slog.Warn("skipping candle with missing OHLC data", "symbol", symbol, "date", date)
			continue
		}
		c, err := parseEquityDaily(date, v)
		if err != nil {
			slog.Warn("skipping unparseable candle", "symbol", symbol, "date", date, "error", err)
			continue
		}
		candles = append(candles, c)
	}

	return filterAndSortDaily(candles, since, until), nil
}

// fetchCryptoDaily は暗号資産ペア向けのDIGITAL_CURRENCY_DAILYを取得します。
func (a *AlphaVantageMarket) fetchCryptoDaily(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
	base, quote := splitCryptoPair(symbol)

	q := url.Values{}
	q.Set("function", "DIGITAL_CURRENCY_DAILY")
	q.Set("symbol", base)
	q.Set("market", quote)
	q.Set("apikey", a.cfg.APIKey)

	body, err := a.get(ctx, q)
	if err != nil {
		return nil, err
	}

	var res dto.DigitalCurrencyDailyResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if err := classifyEnvelope(res.Envelope); err != nil {
		return nil, err
	}
	if res.TimeSeries == nil {
		return nil, fmt.Errorf("%w: missing %q in payload", domain.ErrUpstream, "Time Series (Digital Currency Daily)")
	}

	candles := make([]entity.DailyCandle, 0, len(res.TimeSeries))
	for date, v := range res.TimeSeries {
		// USDサフィックス付き（1a./1b.）と素のキー、どちらの形式でも
		// 最初に見つかった非空の値を採用する
		openVal := firstNonEmpty(v.OpenUSDA, v.OpenUSDB, v.Open)
		highVal := firstNonEmpty(v.HighUSDA, v.HighUSDB, v.High)
		lowVal := firstNonEmpty(v.LowUSDA, v.LowUSDB, v.Low)
		closeVal := firstNonEmpty(v.CloseUSDA, v.CloseUSDB, v.Close)

		if openVal == "" || highVal == "" || lowVal == "" || closeVal == "" {
			slog.Warn("skipping candle with missing OHLC data", "symbol", symbol, "date", date)
			continue
		}

		o, err1 := strconv.ParseFloat(openVal, 64)
		h, err2 := strconv.ParseFloat(highVal, 64)
		l, err3 := strconv.ParseFloat(lowVal, 64)
		c, err4 := strconv.ParseFloat(closeVal, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			slog.Warn("skipping unparseable candle", "symbol", symbol, "date", date)
			continue
		}

		candles = append(candles, entity.DailyCandle{
			Date:   date,
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: parseVolume(v.Volume),
		})
	}

	return filterAndSortDaily(candles, since, until), nil
}

// get はGETリクエストを実行し、2xx応答のボディを返します。リトライは行いません。
func (a *AlphaVantageMarket) get(ctx context.Context, q url.Values) ([]byte, error) {
	u := fmt.Sprintf("%s?%s", a.cfg.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("alphavantage http %d", res.StatusCode)
	}
	return io.ReadAll(res.Body)
}

// classifyEnvelope は200ステータスのボディに埋め込まれたエラーを分類します。
// 有効なシリーズが併記されていても、エラーフィールドの存在を優先します。
func classifyEnvelope(e dto.Envelope) error {
	switch {
	case e.ErrorMessage != "":
		return fmt.Errorf("%w: %s", domain.ErrUpstream, e.ErrorMessage)
	case e.Note != "":
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, e.Note)
	case e.Information != "":
		return fmt.Errorf("%w: %s", domain.ErrUpstreamInfo, e.Information)
	}
	return nil
}

// outputSize は開始日が直近compactWindowDays以内であればcompact、
// それ以外はfullを返します。取得コストの最適化であり、正しさには影響しません。
func outputSize(since string, now time.Time) string {
	if since == "" {
		return "full"
	}
	sinceDate, err := time.Parse("2006-01-02", since)
	if err != nil {
		return "full"
	}
	if now.Sub(sinceDate) <= compactWindowDays*24*time.Hour {
		return "compact"
	}
	return "full"
}

func parseEquityDaily(date string, v dto.DailyFields) (entity.DailyCandle, error) {
	o, err := strconv.ParseFloat(v.Open, 64)
	if err != nil {
		return entity.DailyCandle{}, fmt.Errorf("parse open %q: %w", v.Open, err)
	}
	h, err := strconv.ParseFloat(v.High, 64)
	if err != nil {
		return entity.DailyCandle{}, fmt.Errorf("parse high %q: %w", v.High, err)
	}
	l, err := strconv.ParseFloat(v.Low, 64)
	if err != nil {
		return entity.DailyCandle{}, fmt.Errorf("parse low %q: %w", v.Low, err)
	}
	c, err := strconv.ParseFloat(v.Close, 64)
	if err != nil {
		return entity.DailyCandle{}, fmt.Errorf("parse close %q: %w", v.Close, err)
	}

	return entity.DailyCandle{
		Date:   date,
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: parseVolume(firstNonEmpty(v.Volume, v.AdjustedVolume)),

		AdjustedClose:    parseOptionalFloat(v.AdjustedClose),
		DividendAmount:   parseOptionalFloat(v.DividendAmount),
		SplitCoefficient: parseOptionalFloat(v.SplitCoefficient),
	}, nil
}

func parseIntraday(ts string, v dto.IntradayFields) (entity.IntradayCandle, error) {
	o, err := strconv.ParseFloat(v.Open, 64)
	if err != nil {
		return entity.IntradayCandle{}, fmt.Errorf("parse open %q: %w", v.Open, err)
	}
	h, err := strconv.ParseFloat(v.High, 64)
	if err != nil {
		return entity.IntradayCandle{}, fmt.Errorf("parse high %q: %w", v.High, err)
	}
	l, err := strconv.ParseFloat(v.Low, 64)
	if err != nil {
		return entity.IntradayCandle{}, fmt.Errorf("parse low %q: %w", v.Low, err)
	}
	c, err := strconv.ParseFloat(v.Close, 64)
	if err != nil {
		return entity.IntradayCandle{}, fmt.Errorf("parse close %q: %w", v.Close, err)
	}

	return entity.IntradayCandle{
		TS:     ts,
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: parseVolume(v.Volume),
	}, nil
}

// parseVolume は出来高を解釈します。欠落または解釈不能な値は0ではなくnilに
// 正規化します（アップストリームがフィールド自体を省略するケースに対応）。
func parseVolume(s string) *int64 {
	if s == "" {
		return nil
	}
	// 暗号資産の出来高は小数表記で返ることがある
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v := int64(f)
	return &v
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// filterAndSortDaily は [since, until]（両端含む）で絞り込み、日付昇順に並べます。
// 日付は固定幅のISO形式のため、文字列比較で十分です。
func filterAndSortDaily(candles []entity.DailyCandle, since, until string) []entity.DailyCandle {
	filtered := make([]entity.DailyCandle, 0, len(candles))
	for _, c := range candles {
		if (since != "" && c.Date < since) || (until != "" && c.Date > until) {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Date < filtered[j].Date })
	return filtered
}

// splitCryptoPair は "BTC-USD" をベース通貨とクォート通貨に分割します。
func splitCryptoPair(symbol string) (base, quote string) {
	parts := strings.SplitN(strings.ToUpper(symbol), "-", 2)
	return parts[0], parts[1]
}

// firstNonEmpty は最初の空でない値を返します。
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
