package usecase

import (
	"strings"

	"stock_ingest/internal/feature/ingest/domain/entity"
)

// 解決結果の分類ノートです。
const (
	NoteCrypto          = "crypto"
	NoteEquity          = "equity"
	NoteSkipUnsupported = "skip_unsupported"

	noteProxyPrefix = "proxy_for:"
	cryptoQuote     = "-USD"
	futureSuffix    = "=F"
)

// proxyMap はプロバイダーが対応していないティッカーを、流動性の高い代替ETFへ
// マッピングする静的テーブルです。
var proxyMap = map[string]string{
	"^GSPC": "SPY", // S&P 500 → SPY ETF
	"^IXIC": "QQQ", // NASDAQ Composite → QQQ ETF
	"^TNX":  "IEF", // 10Y yield → 7-10Y Treasury ETF proxy
	"GC=F":  "GLD", // Gold futures → GLD ETF
}

// Resolve は入力シンボルをプロバイダーで取得可能なシンボルと分類ノートに解決します。
// 純粋関数であり、副作用はありません。
//
//   - 暗号資産ペア（例: BTC-USD）はそのまま通し、ノートは "crypto"
//   - 静的プロキシテーブルに載っているティッカーは代替シンボルに変換し、
//     ノートは "proxy_for:<元シンボル>"
//   - プロキシのない指数（^で始まる）や先物（=Fを含む）は取得不可のため
//     空のシンボルと "skip_unsupported" を返す。呼び出し側はこのシンボルの
//     取り込み全体をスキップすること
//   - それ以外は大文字化してそのまま通し、ノートは "equity"
func Resolve(inputSymbol string) (fetchSymbol, note string) {
	upper := strings.ToUpper(strings.TrimSpace(inputSymbol))

	if IsCryptoPair(upper) {
		return upper, NoteCrypto
	}
	if proxy, ok := proxyMap[upper]; ok {
		return proxy, noteProxyPrefix + upper
	}
	if strings.HasPrefix(upper, "^") || strings.Contains(upper, futureSuffix) {
		return "", NoteSkipUnsupported
	}
	return upper, NoteEquity
}

// IsCryptoPair はシンボルが暗号資産ペア（例: BTC-USD, ETH-USD）かどうかを判定します。
func IsCryptoPair(symbol string) bool {
	upper := strings.ToUpper(symbol)
	return strings.Contains(upper, "-") && strings.HasSuffix(upper, cryptoQuote)
}

// ClassifyInstrumentType は表示シンボルのパターンから銘柄タイプを判定します。
// Resolveのプロキシ処理とは独立で、新規Instrumentレコード作成時に使用します。
func ClassifyInstrumentType(displaySymbol string) entity.InstrumentType {
	switch {
	case IsCryptoPair(displaySymbol):
		return entity.InstrumentCrypto
	case strings.HasPrefix(displaySymbol, "^"):
		return entity.InstrumentIndex
	case strings.Contains(displaySymbol, futureSuffix):
		return entity.InstrumentFuture
	default:
		return entity.InstrumentEquity
	}
}
