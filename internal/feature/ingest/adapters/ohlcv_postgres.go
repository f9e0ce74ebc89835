package adapters

import (
	"context"

	"stock_ingest/internal/feature/ingest/domain/entity"
	"stock_ingest/internal/feature/ingest/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ohlcvPostgres はOhlcvRepositoryインターフェースのPostgres実装です。
type ohlcvPostgres struct {
	db *gorm.DB
}

var _ usecase.OhlcvRepository = (*ohlcvPostgres)(nil)

// NewOhlcvRepository は指定されたDB接続でohlcvPostgresリポジトリの新しいインスタンスを生成します。
func NewOhlcvRepository(db *gorm.DB) *ohlcvPostgres {
	return &ohlcvPostgres{db: db}
}

// OhlcvModel は日足OHLCVデータのテーブル定義です。
// (instrument_id, date) のユニークインデックスがupsertのコンフリクトキーです。
type OhlcvModel struct {
	ID               uint   `gorm:"primaryKey"`
	InstrumentID     uint   `gorm:"not null;uniqueIndex:ohlcv_inst_date,priority:1"`
	InstrumentSymbol string `gorm:"size:32;not null"`
	Date             string `gorm:"size:10;not null;uniqueIndex:ohlcv_inst_date,priority:2"`

	Open   float64 `gorm:"not null"`
	High   float64 `gorm:"not null"`
	Low    float64 `gorm:"not null"`
	Close  float64 `gorm:"not null"`
	Volume int64   `gorm:"not null;default:0"`
}

// TableName はgormのデフォルトのテーブル名を上書きします。
func (OhlcvModel) TableName() string {
	return "ohlcv_data"
}

func toOhlcvModel(row entity.OhlcvRow) OhlcvModel {
	return OhlcvModel{
		InstrumentID:     row.InstrumentID,
		InstrumentSymbol: row.InstrumentSymbol,
		Date:             row.Date,
		Open:             row.Open,
		High:             row.High,
		Low:              row.Low,
		Close:            row.Close,
		Volume:           row.Volume,
	}
}

// LatestDate は保存済みの最新の日付を返します。データが無い場合は空文字列を返します。
func (r *ohlcvPostgres) LatestDate(ctx context.Context, instrumentID uint) (string, error) {
	var dates []string
	if err := r.db.WithContext(ctx).
		Model(&OhlcvModel{}).
		Where("instrument_id = ?", instrumentID).
		Order("date DESC").
		Limit(1).
		Pluck("date", &dates).Error; err != nil {
		return "", err
	}
	if len(dates) == 0 {
		return "", nil
	}
	return dates[0], nil
}

// UpsertBatch は (instrument_id, date) をコンフリクトキーとして一括upsertします。
// 同じ期間を再取り込みしても行は増えず、価格カラムが上書きされるだけです。
func (r *ohlcvPostgres) UpsertBatch(ctx context.Context, rows []entity.OhlcvRow) error {
	if len(rows) == 0 {
		return nil
	}
	ms := make([]OhlcvModel, 0, len(rows))
	for _, row := range rows {
		ms = append(ms, toOhlcvModel(row))
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instrument_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"instrument_symbol", "open", "high", "low", "close", "volume"}),
	}).Create(&ms).Error
}
