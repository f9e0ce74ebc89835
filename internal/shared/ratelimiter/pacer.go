package ratelimiter

import "time"

// Pacer は呼び出しの間に固定の間隔を空けるRateLimiterInterface実装です。
// 初回の呼び出しは待機せず、2回目以降は前回の呼び出しからdelay経過するまで
// 待機します。
type Pacer struct {
	delay    time.Duration
	lastCall time.Time
}

// NewPacer は新しいPacerのインスタンスを生成します。
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay}
}

// WaitIfNeeded は前回の呼び出しからの経過時間がdelayに満たない場合、残り時間だけ待機します。
func (p *Pacer) WaitIfNeeded() {
	if !p.lastCall.IsZero() {
		if sleep := p.delay - time.Since(p.lastCall); sleep > 0 {
			time.Sleep(sleep)
		}
	}
	p.lastCall = time.Now()
}
