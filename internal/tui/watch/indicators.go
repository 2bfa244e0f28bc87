package watch

import (
	"strings"
	"time"
)

const spinnerDots = 5

// Ticker alternates frames once per UI tick so a frozen UI is visible.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up on every event and loses one dot per two quiet seconds.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnEvent(now time.Time) {
	s.dots = spinnerDots
	s.lastEvent = now
}

func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	lost := int(now.Sub(s.lastEvent) / (2 * time.Second))
	s.dots = max(spinnerDots-lost, 0)
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := range spinnerDots {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
