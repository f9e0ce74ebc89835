// Package entity defines the domain models for the ingest feature.
package entity

// InstrumentType classifies a tradable instrument.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "equity"
	InstrumentCrypto InstrumentType = "crypto"
	InstrumentIndex  InstrumentType = "index"
	InstrumentFuture InstrumentType = "future"
)

// Instrument represents a financial instrument tracked by the ingestion job.
// Identity is the display symbol, which may differ from the symbol actually
// fetched from the provider (e.g. an index proxied through a tracking ETF).
// Records are created lazily on first ingestion and never mutated afterwards.
type Instrument struct {
	ID       uint           `gorm:"primaryKey"`
	Symbol   string         `gorm:"size:32;not null;uniqueIndex"`
	Name     string         `gorm:"size:255;not null"`
	Type     InstrumentType `gorm:"size:16;not null"`
	Provider string         `gorm:"size:64;not null"`
	Currency string         `gorm:"size:8;not null"`
}

// TableName overrides the gorm default table name.
func (Instrument) TableName() string {
	return "instruments"
}
