package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stock_ingest/internal/feature/ingest/domain"
	"stock_ingest/internal/feature/ingest/domain/entity"
)

var (
	ErrMarketAPI = errors.New("market API error")
	ErrDB        = errors.New("database error")
)

// mockMarketRepository is a mock implementation of the MarketRepository interface.
type mockMarketRepository struct {
	FetchDailyFunc     func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error)
	FetchDailyCalls    int
	FetchIntradayFunc  func(ctx context.Context, symbol, interval, sinceTS, untilTS string) ([]entity.IntradayCandle, error)
	FetchIntradayCalls int
}

func (m *mockMarketRepository) FetchDaily(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
	m.FetchDailyCalls++
	if m.FetchDailyFunc != nil {
		return m.FetchDailyFunc(ctx, symbol, since, until)
	}
	return nil, errors.New("FetchDailyFunc is not implemented")
}

func (m *mockMarketRepository) FetchIntraday(ctx context.Context, symbol, interval, sinceTS, untilTS string) ([]entity.IntradayCandle, error) {
	m.FetchIntradayCalls++
	if m.FetchIntradayFunc != nil {
		return m.FetchIntradayFunc(ctx, symbol, interval, sinceTS, untilTS)
	}
	return nil, errors.New("FetchIntradayFunc is not implemented")
}

// mockInstrumentRepository is a mock implementation of the InstrumentRepository interface.
type mockInstrumentRepository struct {
	FindBySymbolFunc func(ctx context.Context, symbol string) (*entity.Instrument, error)
	CreateFunc       func(ctx context.Context, inst *entity.Instrument) error
	CreateCalls      int
}

func (m *mockInstrumentRepository) FindBySymbol(ctx context.Context, symbol string) (*entity.Instrument, error) {
	if m.FindBySymbolFunc != nil {
		return m.FindBySymbolFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *mockInstrumentRepository) Create(ctx context.Context, inst *entity.Instrument) error {
	m.CreateCalls++
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, inst)
	}
	inst.ID = 1
	return nil
}

// mockOhlcvRepository is a mock implementation of the OhlcvRepository interface.
type mockOhlcvRepository struct {
	LatestDateFunc   func(ctx context.Context, instrumentID uint) (string, error)
	UpsertBatchFunc  func(ctx context.Context, rows []entity.OhlcvRow) error
	UpsertBatchCalls int
	UpsertedRows     []entity.OhlcvRow
}

func (m *mockOhlcvRepository) LatestDate(ctx context.Context, instrumentID uint) (string, error) {
	if m.LatestDateFunc != nil {
		return m.LatestDateFunc(ctx, instrumentID)
	}
	return "", nil
}

func (m *mockOhlcvRepository) UpsertBatch(ctx context.Context, rows []entity.OhlcvRow) error {
	m.UpsertBatchCalls++
	if m.UpsertBatchFunc != nil {
		if err := m.UpsertBatchFunc(ctx, rows); err != nil {
			return err
		}
	}
	m.UpsertedRows = append(m.UpsertedRows, rows...)
	return nil
}

// mockRateLimiter is a mock implementation of the RateLimiterInterface.
type mockRateLimiter struct {
	WaitIfNeededCalls int
}

func (m *mockRateLimiter) WaitIfNeeded() {
	m.WaitIfNeededCalls++
}

func existingInstrument(id uint, symbol string) *mockInstrumentRepository {
	return &mockInstrumentRepository{
		FindBySymbolFunc: func(ctx context.Context, s string) (*entity.Instrument, error) {
			if s != symbol {
				return nil, nil
			}
			return &entity.Instrument{ID: id, Symbol: symbol, Type: ClassifyInstrumentType(symbol), Provider: "Alpha Vantage", Currency: "USD"}, nil
		},
	}
}

func TestIngestUsecase_Ingest_CreatesInstrumentLazily(t *testing.T) {
	ctx := context.Background()

	var created *entity.Instrument
	mockInstruments := &mockInstrumentRepository{
		FindBySymbolFunc: func(ctx context.Context, symbol string) (*entity.Instrument, error) {
			return nil, nil
		},
		CreateFunc: func(ctx context.Context, inst *entity.Instrument) error {
			inst.ID = 42
			created = inst
			return nil
		},
	}
	mockMarket := &mockMarketRepository{
		FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
			return []entity.DailyCandle{{Date: "2022-01-03", Open: 1, High: 2, Low: 0.5, Close: 1.5}}, nil
		},
	}
	mockOhlcv := &mockOhlcvRepository{}

	uc := NewIngestUsecase(mockMarket, mockInstruments, mockOhlcv, &mockRateLimiter{}, Options{})
	res, err := uc.Ingest(ctx, "BTC-USD", "")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Error("expected OK result")
	}
	if created == nil {
		t.Fatal("expected instrument to be created")
	}
	if created.Symbol != "BTC-USD" {
		t.Errorf("instrument symbol mismatch: got %q, want %q", created.Symbol, "BTC-USD")
	}
	if created.Type != entity.InstrumentCrypto {
		t.Errorf("instrument type mismatch: got %q, want %q", created.Type, entity.InstrumentCrypto)
	}
	if created.Provider != "Alpha Vantage" || created.Currency != "USD" {
		t.Errorf("instrument provider/currency mismatch: %+v", created)
	}
	if len(mockOhlcv.UpsertedRows) != 1 || mockOhlcv.UpsertedRows[0].InstrumentID != 42 {
		t.Errorf("upserted rows should carry the new instrument id: %+v", mockOhlcv.UpsertedRows)
	}
}

func TestIngestUsecase_Ingest_WindowComputation(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		latestDate  string
		overlapDays int
		wantSince   string
	}{
		{
			name:        "no stored data falls back to default start date",
			latestDate:  "",
			overlapDays: 1,
			wantSince:   "2022-01-01",
		},
		{
			name:        "high-water-mark minus default overlap",
			latestDate:  "2024-03-10",
			overlapDays: 1,
			wantSince:   "2024-03-09",
		},
		{
			name:        "high-water-mark minus larger overlap",
			latestDate:  "2024-03-10",
			overlapDays: 3,
			wantSince:   "2024-03-07",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotSince, gotUntil string
			mockMarket := &mockMarketRepository{
				FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
					gotSince, gotUntil = since, until
					return nil, nil
				},
			}
			mockOhlcv := &mockOhlcvRepository{
				LatestDateFunc: func(ctx context.Context, instrumentID uint) (string, error) {
					return tc.latestDate, nil
				},
			}

			uc := NewIngestUsecase(mockMarket, existingInstrument(1, "AAPL"), mockOhlcv, &mockRateLimiter{}, Options{OverlapDays: tc.overlapDays})
			if _, err := uc.Ingest(ctx, "AAPL", ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if gotSince != tc.wantSince {
				t.Errorf("since mismatch: got %q, want %q", gotSince, tc.wantSince)
			}
			if today := time.Now().UTC().Format("2006-01-02"); gotUntil != today {
				t.Errorf("until mismatch: got %q, want %q", gotUntil, today)
			}
		})
	}
}

func TestIngestUsecase_Ingest_BatchingAndPartialFailure(t *testing.T) {
	ctx := context.Background()

	candles := make([]entity.DailyCandle, 0, 5)
	for i := 1; i <= 5; i++ {
		candles = append(candles, entity.DailyCandle{Date: fmt.Sprintf("2024-03-%02d", i), Open: 1, High: 2, Low: 0.5, Close: 1.5})
	}

	mockMarket := &mockMarketRepository{
		FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
			return candles, nil
		},
	}

	batch := 0
	mockOhlcv := &mockOhlcvRepository{
		UpsertBatchFunc: func(ctx context.Context, rows []entity.OhlcvRow) error {
			batch++
			if batch == 2 {
				return ErrDB
			}
			return nil
		},
	}

	uc := NewIngestUsecase(mockMarket, existingInstrument(1, "AAPL"), mockOhlcv, &mockRateLimiter{}, Options{BatchSize: 2})
	res, err := uc.Ingest(ctx, "AAPL", "")

	// バッチ単位の失敗はシンボル全体の失敗にはしない
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Error("expected OK result despite one failed batch")
	}
	if mockOhlcv.UpsertBatchCalls != 3 {
		t.Errorf("UpsertBatch was called %d times, expected 3", mockOhlcv.UpsertBatchCalls)
	}
	// 5行のうち、失敗した2行目のバッチ（2行）を除く3行が書き込まれる
	if res.Upserts != 3 {
		t.Errorf("upserts mismatch: got %d, want 3", res.Upserts)
	}
}

func TestIngestUsecase_Ingest_DropsCandlesWithoutDate(t *testing.T) {
	ctx := context.Background()

	mockMarket := &mockMarketRepository{
		FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
			return []entity.DailyCandle{
				{Date: "2024-03-01", Open: 1, High: 2, Low: 0.5, Close: 1.5},
				{Date: "", Open: 1, High: 2, Low: 0.5, Close: 1.5},
				{Date: "2024-03-02", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: int64Ptr(9)},
			}, nil
		},
	}
	mockOhlcv := &mockOhlcvRepository{}

	uc := NewIngestUsecase(mockMarket, existingInstrument(1, "AAPL"), mockOhlcv, &mockRateLimiter{}, Options{})
	res, err := uc.Ingest(ctx, "AAPL", "")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Upserts != 2 {
		t.Errorf("upserts mismatch: got %d, want 2", res.Upserts)
	}
	if len(mockOhlcv.UpsertedRows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(mockOhlcv.UpsertedRows))
	}
	// nilの出来高は0として保存される
	if mockOhlcv.UpsertedRows[0].Volume != 0 {
		t.Errorf("nil volume should be stored as 0, got %d", mockOhlcv.UpsertedRows[0].Volume)
	}
	if mockOhlcv.UpsertedRows[1].Volume != 9 {
		t.Errorf("volume mismatch: got %d, want 9", mockOhlcv.UpsertedRows[1].Volume)
	}
}

func TestIngestUsecase_Ingest_InstrumentCreateFailureIsFatalForSymbol(t *testing.T) {
	ctx := context.Background()

	mockInstruments := &mockInstrumentRepository{
		FindBySymbolFunc: func(ctx context.Context, symbol string) (*entity.Instrument, error) {
			return nil, nil
		},
		CreateFunc: func(ctx context.Context, inst *entity.Instrument) error {
			return ErrDB
		},
	}
	mockMarket := &mockMarketRepository{}
	mockOhlcv := &mockOhlcvRepository{}

	uc := NewIngestUsecase(mockMarket, mockInstruments, mockOhlcv, &mockRateLimiter{}, Options{})
	_, err := uc.Ingest(ctx, "AAPL", "")

	if !errors.Is(err, domain.ErrInstrumentCreate) {
		t.Fatalf("expected ErrInstrumentCreate, got %v", err)
	}
	if mockMarket.FetchDailyCalls != 0 {
		t.Error("FetchDaily should not be called when instrument creation fails")
	}
}

func TestIngestUsecase_Ingest_FetchErrorPropagates(t *testing.T) {
	ctx := context.Background()

	mockMarket := &mockMarketRepository{
		FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
			return nil, fmt.Errorf("%w: please slow down", domain.ErrRateLimited)
		},
	}
	mockOhlcv := &mockOhlcvRepository{}

	uc := NewIngestUsecase(mockMarket, existingInstrument(1, "AAPL"), mockOhlcv, &mockRateLimiter{}, Options{})
	_, err := uc.Ingest(ctx, "AAPL", "")

	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if mockOhlcv.UpsertBatchCalls != 0 {
		t.Error("UpsertBatch should not be called when the fetch fails")
	}
}

func TestIngestUsecase_Ingest_IntradayMode(t *testing.T) {
	ctx := context.Background()

	var gotInterval, gotSinceTS string
	mockMarket := &mockMarketRepository{
		FetchIntradayFunc: func(ctx context.Context, symbol, interval, sinceTS, untilTS string) ([]entity.IntradayCandle, error) {
			gotInterval, gotSinceTS = interval, sinceTS
			// 逆時系列のまま返しても集約が吸収する
			return []entity.IntradayCandle{
				{TS: "2024-03-11 13:00:00", Open: 10, High: 12, Low: 9, Close: 11, Volume: int64Ptr(100)},
				{TS: "2024-03-11 09:00:00", Open: 8, High: 9, Low: 7, Close: 9, Volume: int64Ptr(50)},
			}, nil
		},
	}
	mockOhlcv := &mockOhlcvRepository{
		LatestDateFunc: func(ctx context.Context, instrumentID uint) (string, error) {
			return "2024-03-10", nil
		},
	}

	uc := NewIngestUsecase(mockMarket, existingInstrument(1, "AAPL"), mockOhlcv, &mockRateLimiter{}, Options{Mode: ModeHours, IntradayInterval: "60min"})
	res, err := uc.Ingest(ctx, "AAPL", "")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Mode != ModeHours {
		t.Errorf("mode mismatch: got %q, want %q", res.Mode, ModeHours)
	}
	if gotInterval != "60min" {
		t.Errorf("interval mismatch: got %q, want %q", gotInterval, "60min")
	}
	// 最終保存日のその日の0時から取り直す
	if gotSinceTS != "2024-03-10 00:00:00" {
		t.Errorf("since_ts mismatch: got %q, want %q", gotSinceTS, "2024-03-10 00:00:00")
	}

	if len(mockOhlcv.UpsertedRows) != 1 {
		t.Fatalf("expected 1 aggregated row, got %d", len(mockOhlcv.UpsertedRows))
	}
	row := mockOhlcv.UpsertedRows[0]
	if row.Date != "2024-03-11" || row.Open != 8 || row.Close != 11 || row.High != 12 || row.Low != 7 || row.Volume != 150 {
		t.Errorf("aggregated row mismatch: %+v", row)
	}
	if res.Upserts != 1 {
		t.Errorf("upserts mismatch: got %d, want 1", res.Upserts)
	}
}

func TestIngestUsecase_IngestAll(t *testing.T) {
	ctx := context.Background()

	t.Run("skips unsupported symbols entirely", func(t *testing.T) {
		mockInstruments := &mockInstrumentRepository{
			FindBySymbolFunc: func(ctx context.Context, symbol string) (*entity.Instrument, error) {
				if symbol == "^RUT" {
					t.Error("FindBySymbol should not be called for a skipped symbol")
				}
				return &entity.Instrument{ID: 1, Symbol: symbol}, nil
			},
		}
		mockMarket := &mockMarketRepository{
			FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
				return nil, nil
			},
		}

		uc := NewIngestUsecase(mockMarket, mockInstruments, &mockOhlcvRepository{}, &mockRateLimiter{}, Options{})
		results := uc.IngestAll(ctx, []string{"^RUT", "AAPL"})

		if _, ok := results["^RUT"]; ok {
			t.Error("skipped symbol should not appear in results")
		}
		if res, ok := results["AAPL"]; !ok || !res.OK {
			t.Errorf("AAPL result mismatch: %+v", results)
		}
		if mockMarket.FetchDailyCalls != 1 {
			t.Errorf("FetchDaily was called %d times, expected 1", mockMarket.FetchDailyCalls)
		}
	})

	t.Run("proxied symbol fetches substitute but stores under display symbol", func(t *testing.T) {
		var fetchedSymbol string
		mockMarket := &mockMarketRepository{
			FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
				fetchedSymbol = symbol
				return []entity.DailyCandle{{Date: "2024-03-01", Open: 1, High: 2, Low: 0.5, Close: 1.5}}, nil
			},
		}
		mockOhlcv := &mockOhlcvRepository{}

		uc := NewIngestUsecase(mockMarket, existingInstrument(7, "^GSPC"), mockOhlcv, &mockRateLimiter{}, Options{})
		results := uc.IngestAll(ctx, []string{"^GSPC"})

		if fetchedSymbol != "SPY" {
			t.Errorf("fetch symbol mismatch: got %q, want %q", fetchedSymbol, "SPY")
		}
		if res := results["^GSPC"]; !res.OK || res.FetchSymbol != "SPY" {
			t.Errorf("result mismatch: %+v", res)
		}
		if len(mockOhlcv.UpsertedRows) != 1 || mockOhlcv.UpsertedRows[0].InstrumentSymbol != "^GSPC" {
			t.Errorf("rows must be stored under the display symbol: %+v", mockOhlcv.UpsertedRows)
		}
	})

	t.Run("continues processing after a per-symbol failure", func(t *testing.T) {
		mockMarket := &mockMarketRepository{
			FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
				if symbol == "AAPL" {
					return nil, ErrMarketAPI
				}
				return nil, nil
			},
		}
		mockInstruments := &mockInstrumentRepository{
			FindBySymbolFunc: func(ctx context.Context, symbol string) (*entity.Instrument, error) {
				return &entity.Instrument{ID: 1, Symbol: symbol}, nil
			},
		}
		mockRL := &mockRateLimiter{}

		uc := NewIngestUsecase(mockMarket, mockInstruments, &mockOhlcvRepository{}, mockRL, Options{})
		results := uc.IngestAll(ctx, []string{"AAPL", "TSLA"})

		if res := results["AAPL"]; res.OK || res.Err == "" {
			t.Errorf("AAPL should be recorded as failed: %+v", res)
		}
		if res := results["TSLA"]; !res.OK {
			t.Errorf("TSLA should still succeed: %+v", res)
		}
		if mockRL.WaitIfNeededCalls != 2 {
			t.Errorf("WaitIfNeeded was called %d times, expected 2", mockRL.WaitIfNeededCalls)
		}
	})

	t.Run("empty symbol list touches nothing", func(t *testing.T) {
		mockMarket := &mockMarketRepository{
			FetchDailyFunc: func(ctx context.Context, symbol, since, until string) ([]entity.DailyCandle, error) {
				t.Error("FetchDaily should not be called")
				return nil, nil
			},
		}

		uc := NewIngestUsecase(mockMarket, &mockInstrumentRepository{}, &mockOhlcvRepository{}, &mockRateLimiter{}, Options{})
		results := uc.IngestAll(ctx, nil)

		if len(results) != 0 {
			t.Errorf("expected empty results, got %+v", results)
		}
	})
}
