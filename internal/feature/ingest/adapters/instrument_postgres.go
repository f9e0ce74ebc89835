// Package adapters はingestフィーチャーのリポジトリ実装を提供します。
package adapters

import (
	"context"
	"errors"

	"stock_ingest/internal/feature/ingest/domain/entity"
	"stock_ingest/internal/feature/ingest/usecase"

	"gorm.io/gorm"
)

// instrumentPostgres はInstrumentRepositoryインターフェースのPostgres実装です。
type instrumentPostgres struct {
	db *gorm.DB
}

var _ usecase.InstrumentRepository = (*instrumentPostgres)(nil)

// NewInstrumentRepository は指定されたDB接続でinstrumentPostgresリポジトリの新しいインスタンスを生成します。
func NewInstrumentRepository(db *gorm.DB) *instrumentPostgres {
	return &instrumentPostgres{db: db}
}

// FindBySymbol は表示シンボルでInstrumentを検索します。見つからない場合は (nil, nil) を返します。
func (r *instrumentPostgres) FindBySymbol(ctx context.Context, symbol string) (*entity.Instrument, error) {
	var inst entity.Instrument
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Create は新しいInstrumentレコードを作成し、採番されたIDをinstに書き戻します。
func (r *instrumentPostgres) Create(ctx context.Context, inst *entity.Instrument) error {
	return r.db.WithContext(ctx).Create(inst).Error
}
