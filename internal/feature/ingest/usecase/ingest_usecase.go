// Package usecase は価格データ取り込みパイプラインのビジネスロジックを実装します。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stock_ingest/internal/feature/ingest/domain"
	"stock_ingest/internal/feature/ingest/domain/entity"
	"stock_ingest/internal/shared/ratelimiter"
)

const (
	// ModeDaily は日足モード、ModeHours は日中足を日足に集約するモードです。
	ModeDaily = "daily"
	ModeHours = "hours"

	dateLayout = "2006-01-02"
	tsLayout   = "2006-01-02 15:04:05"

	providerName    = "Alpha Vantage"
	defaultCurrency = "USD"
)

// MarketRepository は外部の市場データAPIを抽象化します。
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type MarketRepository interface {
	// FetchDaily は [since, until]（両端含む、YYYY-MM-DD）の日足を昇順で返します。
	FetchDaily(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error)
	// FetchIntraday は [sinceTS, untilTS]（YYYY-MM-DD HH:MM:SS）の日中足を昇順で返します。
	FetchIntraday(ctx context.Context, symbol, interval, sinceTS, untilTS string) ([]entity.IntradayCandle, error)
}

// InstrumentRepository はInstrumentレコードの永続化レイヤーを抽象化します。
type InstrumentRepository interface {
	// FindBySymbol は表示シンボルでInstrumentを検索します。見つからない場合は (nil, nil) を返します。
	FindBySymbol(ctx context.Context, symbol string) (*entity.Instrument, error)
	// Create は新しいInstrumentを作成し、採番されたIDをinstに書き戻します。
	Create(ctx context.Context, inst *entity.Instrument) error
}

// OhlcvRepository は日足OHLCVデータの永続化レイヤーを抽象化します。
type OhlcvRepository interface {
	// LatestDate は保存済みの最新の日付（high-water-mark）を返します。データが無い場合は空文字列を返します。
	LatestDate(ctx context.Context, instrumentID uint) (string, error)
	// UpsertBatch は (instrument_id, date) をコンフリクトキーとして一括upsertします。
	UpsertBatch(ctx context.Context, rows []entity.OhlcvRow) error
}

// Options はIngestUsecaseの動作設定です。エントリーポイントで一度だけ構築して渡します。
type Options struct {
	Mode             string // "daily" または "hours"
	OverlapDays      int    // 直近データの改訂を拾い直すための重複取得日数
	BatchSize        int    // 1回のupsertに含める最大行数
	DefaultStartDate string // 保存済みデータが無い場合の取得開始日（YYYY-MM-DD）
	IntradayInterval string // 日中足モードの足の間隔（例: "60min"）
}

// Result は1シンボル分の取り込み結果です。
type Result struct {
	OK          bool
	Upserts     int    // 成功したバッチで書き込まれた行数
	Mode        string // "daily" または "hours"
	FetchSymbol string // 実際にプロバイダーへ問い合わせたシンボル
	Err         string // 失敗時のエラーメッセージ
}

// IngestUsecase は外部APIから価格データを取得し、データベースに永続化するユースケースを定義します。
type IngestUsecase struct {
	market      MarketRepository
	instruments InstrumentRepository
	ohlcv       OhlcvRepository
	rateLimiter ratelimiter.RateLimiterInterface
	opts        Options
}

// NewIngestUsecase は新しい IngestUsecase を作成します。未設定のオプションにはデフォルト値を適用します。
func NewIngestUsecase(market MarketRepository, instruments InstrumentRepository, ohlcv OhlcvRepository, rateLimiter ratelimiter.RateLimiterInterface, opts Options) *IngestUsecase {
	if opts.Mode == "" {
		opts.Mode = ModeDaily
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.DefaultStartDate == "" {
		opts.DefaultStartDate = "2022-01-01"
	}
	if opts.IntradayInterval == "" {
		opts.IntradayInterval = "60min"
	}
	return &IngestUsecase{
		market:      market,
		instruments: instruments,
		ohlcv:       ohlcv,
		rateLimiter: rateLimiter,
		opts:        opts,
	}
}

// Ingest は1シンボル分の取り込みを実行します。fetchSymbolはプロキシにより
// displaySymbolと異なる場合がありますが、データは常にdisplaySymbolの
// Instrumentの下に保存されます。空の場合はdisplaySymbolで取得します。
func (iu *IngestUsecase) Ingest(ctx context.Context, displaySymbol, fetchSymbol string) (Result, error) {
	if fetchSymbol == "" {
		fetchSymbol = displaySymbol
	}

	inst, err := iu.findOrCreateInstrument(ctx, displaySymbol)
	if err != nil {
		return Result{}, err
	}

	if iu.opts.Mode == ModeHours || iu.opts.Mode == "intraday" {
		return iu.ingestIntraday(ctx, inst, fetchSymbol)
	}
	return iu.ingestDaily(ctx, inst, fetchSymbol)
}

// IngestAll は表示シンボルのリストを順次処理します。シンボル間には共有の
// レートリミッターで間隔を空け、1シンボルの失敗は記録した上で後続の処理を
// 続行します。戻り値は表示シンボルごとの結果マップです。
func (iu *IngestUsecase) IngestAll(ctx context.Context, symbols []string) map[string]Result {
	results := make(map[string]Result, len(symbols))

	for i, orig := range symbols {
		fetchSymbol, note := Resolve(orig)
		if note == NoteSkipUnsupported || fetchSymbol == "" {
			slog.Warn("skipping symbol unsupported by provider", "symbol", orig)
			continue
		}
		if fetchSymbol != orig {
			slog.Info("mapping symbol to proxy", "symbol", orig, "fetch_symbol", fetchSymbol, "note", note)
		}
		slog.Info("processing symbol", "index", i+1, "total", len(symbols), "symbol", orig, "fetch_symbol", fetchSymbol)

		iu.rateLimiter.WaitIfNeeded()

		res, err := iu.Ingest(ctx, orig, fetchSymbol)
		if err != nil {
			// 1つの銘柄でエラーが発生しても処理を止めずにログに出力し、次の処理を続ける
			slog.Error("failed to ingest symbol", "symbol", orig, "fetch_symbol", fetchSymbol, "error", err)
			results[orig] = Result{OK: false, Mode: iu.opts.Mode, FetchSymbol: fetchSymbol, Err: err.Error()}
			continue
		}
		results[orig] = res
	}
	return results
}

// findOrCreateInstrument は表示シンボルでInstrumentを検索し、存在しなければ作成します。
func (iu *IngestUsecase) findOrCreateInstrument(ctx context.Context, displaySymbol string) (*entity.Instrument, error) {
	inst, err := iu.instruments.FindBySymbol(ctx, displaySymbol)
	if err != nil {
		return nil, err
	}
	if inst != nil {
		slog.Info("found existing instrument", "symbol", displaySymbol, "instrument_id", inst.ID)
		return inst, nil
	}

	inst = &entity.Instrument{
		Symbol:   displaySymbol,
		Name:     displaySymbol,
		Type:     ClassifyInstrumentType(displaySymbol),
		Provider: providerName,
		Currency: defaultCurrency,
	}
	if err := iu.instruments.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", domain.ErrInstrumentCreate, displaySymbol, err)
	}
	slog.Info("created instrument", "symbol", displaySymbol, "instrument_id", inst.ID, "type", inst.Type)
	return inst, nil
}

// ingestDaily は保存済みのhigh-water-markから増分の取得期間を計算し、
// 日足を取得してバッチupsertします。
func (iu *IngestUsecase) ingestDaily(ctx context.Context, inst *entity.Instrument, fetchSymbol string) (Result, error) {
	since, err := iu.dailyWindowStart(ctx, inst)
	if err != nil {
		return Result{}, err
	}
	until := time.Now().UTC().Format(dateLayout)

	candles, err := iu.market.FetchDaily(ctx, fetchSymbol, since, until)
	if err != nil {
		return Result{}, err
	}
	slog.Info("fetched daily candles", "count", len(candles), "fetch_symbol", fetchSymbol, "store_as", inst.Symbol, "since", since, "until", until)

	rows := make([]entity.OhlcvRow, 0, len(candles))
	for _, c := range candles {
		if c.Date == "" {
			continue
		}
		rows = append(rows, entity.OhlcvRow{
			InstrumentID:     inst.ID,
			InstrumentSymbol: inst.Symbol,
			Date:             c.Date,
			Open:             c.Open,
			High:             c.High,
			Low:              c.Low,
			Close:            c.Close,
			Volume:           volumeOrZero(c.Volume),
		})
	}

	upserts := iu.upsertInBatches(ctx, inst.Symbol, rows)
	return Result{OK: true, Upserts: upserts, Mode: ModeDaily, FetchSymbol: fetchSymbol}, nil
}

// ingestIntraday は日中足を取得して日足に集約し、日足と同じ形でupsertします。
func (iu *IngestUsecase) ingestIntraday(ctx context.Context, inst *entity.Instrument, fetchSymbol string) (Result, error) {
	sinceTS, err := iu.intradayWindowStart(ctx, inst)
	if err != nil {
		return Result{}, err
	}
	untilTS := time.Now().UTC().Format(tsLayout)

	intraday, err := iu.market.FetchIntraday(ctx, fetchSymbol, iu.opts.IntradayInterval, sinceTS, untilTS)
	if err != nil {
		return Result{}, err
	}
	slog.Info("fetched intraday candles", "count", len(intraday), "fetch_symbol", fetchSymbol, "store_as", inst.Symbol, "interval", iu.opts.IntradayInterval)

	dailyMap := AggregateIntradayToDaily(intraday)

	// バッチの内容を決定的にするため日付順に変換する
	dates := make([]string, 0, len(dailyMap))
	for date := range dailyMap {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	rows := make([]entity.OhlcvRow, 0, len(dates))
	for _, date := range dates {
		c := dailyMap[date]
		rows = append(rows, entity.OhlcvRow{
			InstrumentID:     inst.ID,
			InstrumentSymbol: inst.Symbol,
			Date:             date,
			Open:             c.Open,
			High:             c.High,
			Low:              c.Low,
			Close:            c.Close,
			Volume:           volumeOrZero(c.Volume),
		})
	}

	upserts := iu.upsertInBatches(ctx, inst.Symbol, rows)
	return Result{OK: true, Upserts: upserts, Mode: ModeHours, FetchSymbol: fetchSymbol}, nil
}

// dailyWindowStart は取得開始日を返します。保存済みデータがあればその最新日から
// OverlapDays分戻した日付、無ければデフォルトの開始日です。重複分はupsertの
// 冪等性により二重行にはなりません。
func (iu *IngestUsecase) dailyWindowStart(ctx context.Context, inst *entity.Instrument) (string, error) {
	last, err := iu.ohlcv.LatestDate(ctx, inst.ID)
	if err != nil {
		return "", err
	}
	if last == "" {
		slog.Info("no existing data, fetching from default start date", "symbol", inst.Symbol, "since", iu.opts.DefaultStartDate)
		return iu.opts.DefaultStartDate, nil
	}

	lastDate, err := time.Parse(dateLayout, last)
	if err != nil {
		return "", fmt.Errorf("parse last stored date %q: %w", last, err)
	}
	since := lastDate.AddDate(0, 0, -iu.opts.OverlapDays).Format(dateLayout)
	slog.Info("resuming from last stored date", "symbol", inst.Symbol, "last", last, "since", since)
	return since, nil
}

// intradayWindowStart は日中足モードの取得開始タイムスタンプを返します。
// 保存済みの最新日がある場合はその日の0時から取り直し、その日全体を確実に
// カバーします。
func (iu *IngestUsecase) intradayWindowStart(ctx context.Context, inst *entity.Instrument) (string, error) {
	last, err := iu.ohlcv.LatestDate(ctx, inst.ID)
	if err != nil {
		return "", err
	}
	if last == "" {
		slog.Info("no existing data, fetching intraday from default start date", "symbol", inst.Symbol, "since", iu.opts.DefaultStartDate)
		return iu.opts.DefaultStartDate + " 00:00:00", nil
	}

	lastDate, err := time.Parse(dateLayout, last)
	if err != nil {
		return "", fmt.Errorf("parse last stored date %q: %w", last, err)
	}
	sinceTS := lastDate.Format(dateLayout) + " 00:00:00"
	slog.Info("resuming intraday from start of last stored day", "symbol", inst.Symbol, "since_ts", sinceTS)
	return sinceTS, nil
}

// upsertInBatches は行を固定サイズのバッチに分割してupsertし、成功した
// バッチで書き込まれた行数を返します。バッチ単位の失敗はログに出力して
// スキップし、残りのバッチと後続のシンボルの処理は継続します。
func (iu *IngestUsecase) upsertInBatches(ctx context.Context, displaySymbol string, rows []entity.OhlcvRow) int {
	upserts := 0
	total := (len(rows) + iu.opts.BatchSize - 1) / iu.opts.BatchSize

	for i := 0; i < len(rows); i += iu.opts.BatchSize {
		end := i + iu.opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]

		if err := iu.ohlcv.UpsertBatch(ctx, batch); err != nil {
			slog.Error("failed to upsert batch", "symbol", displaySymbol, "batch", i/iu.opts.BatchSize+1, "total", total, "error", err)
			continue
		}
		upserts += len(batch)
		slog.Info("upserted batch", "symbol", displaySymbol, "batch", i/iu.opts.BatchSize+1, "total", total, "rows", len(batch))
	}
	return upserts
}
