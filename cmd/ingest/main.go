package main

import (
	"context"
	"log"
	"os"
	"time"

	"stock_ingest/internal/feature/ingest/adapters"
	"stock_ingest/internal/feature/ingest/usecase"
	"stock_ingest/internal/platform/config"
	"stock_ingest/internal/platform/db"
	"stock_ingest/internal/platform/externalapi/alphavantage"
	phttp "stock_ingest/internal/platform/http"
	"stock_ingest/internal/shared/ratelimiter"

	"github.com/joho/godotenv"
)

func main() {
	// .env はローカル実行用。無ければ環境変数のみで動く
	_ = godotenv.Load()

	cfg := config.Load()
	if len(cfg.Symbols) == 0 {
		log.Println("no symbols configured: set SYMBOLS='AAPL,TSLA' or SYMBOL='AAPL'")
		os.Exit(1)
	}

	avCfg := alphavantage.LoadConfig()
	if avCfg.APIKey == "" {
		log.Fatal("ALPHA_VANTAGE_API_KEY is required")
	}

	db := db.OpenDB()
	marketRepo := alphavantage.NewAlphaVantageMarket(avCfg, phttp.NewHTTPClient(avCfg.Timeout))
	instrumentRepo := adapters.NewInstrumentRepository(db)
	ohlcvRepo := adapters.NewOhlcvRepository(db)

	var limiter ratelimiter.RateLimiterInterface
	if cfg.RequestsPerMinute > 0 {
		limiter = ratelimiter.NewRateLimiter(cfg.RequestsPerMinute, time.Minute)
	} else {
		limiter = ratelimiter.NewPacer(time.Duration(cfg.PacingSeconds) * time.Second)
	}

	uc := usecase.NewIngestUsecase(marketRepo, instrumentRepo, ohlcvRepo, limiter, usecase.Options{
		Mode:             cfg.Mode,
		OverlapDays:      cfg.OverlapDays,
		BatchSize:        cfg.BatchSize,
		DefaultStartDate: cfg.DefaultStartDate,
		IntradayInterval: cfg.IntradayInterval,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	results := uc.IngestAll(ctx, cfg.Symbols)
	for symbol, res := range results {
		if res.OK {
			log.Printf("%s: ok mode=%s upserts=%d (fetched as %s)", symbol, res.Mode, res.Upserts, res.FetchSymbol)
		} else {
			log.Printf("%s: failed (fetched as %s): %s", symbol, res.FetchSymbol, res.Err)
		}
	}
	log.Println("ingest ok")
}
