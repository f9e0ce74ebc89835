package usecase

import (
	"stock_ingest/internal/feature/ingest/domain/entity"
)

// dailyBar は集約中の日足バーと、open/closeの採用判断に使う
// 最初・最後のタイムスタンプを保持します。
type dailyBar struct {
	candle  entity.DailyCandle
	firstTS string
	lastTS  string
}

// AggregateIntradayToDaily は日中足のローソク足を日付ごとの日足バーに畳み込みます。
//
// グループ内では open は最も早いタイムスタンプの始値、close は最も遅い
// タイムスタンプの終値を採用し、high/low は走査中の最大・最小、volume は
// 合計（nilは0扱い）です。タイムスタンプの大小比較で判断するため、入力の
// 並び順には依存しません。返されるマップのキー順序は保証されません。
func AggregateIntradayToDaily(intraday []entity.IntradayCandle) map[string]entity.DailyCandle {
	byDate := make(map[string]*dailyBar)

	for _, c := range intraday {
		if len(c.TS) < 10 {
			continue
		}
		dateKey := c.TS[:10]

		bar, ok := byDate[dateKey]
		if !ok {
			vol := volumeOrZero(c.Volume)
			byDate[dateKey] = &dailyBar{
				candle: entity.DailyCandle{
					Date:   dateKey,
					Open:   c.Open,
					High:   c.High,
					Low:    c.Low,
					Close:  c.Close,
					Volume: &vol,
				},
				firstTS: c.TS,
				lastTS:  c.TS,
			}
			continue
		}

		if c.High > bar.candle.High {
			bar.candle.High = c.High
		}
		if c.Low < bar.candle.Low {
			bar.candle.Low = c.Low
		}
		// open は最も早いts、close は最も遅いtsのものを維持する
		if c.TS < bar.firstTS {
			bar.firstTS = c.TS
			bar.candle.Open = c.Open
		}
		if c.TS > bar.lastTS {
			bar.lastTS = c.TS
			bar.candle.Close = c.Close
		}
		*bar.candle.Volume += volumeOrZero(c.Volume)
	}

	out := make(map[string]entity.DailyCandle, len(byDate))
	for date, bar := range byDate {
		out[date] = bar.candle
	}
	return out
}

// volumeOrZero はnilの出来高を0として扱います。
func volumeOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
