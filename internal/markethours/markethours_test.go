package markethours

import (
	"context"
	"sync"
	"testing"
	"time"
)

func ist(y int, mo time.Month, d, h, mi int) time.Time {
	return time.Date(y, mo, d, h, mi, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", ist(2026, time.January, 5, 9, 14), false},
		{"at open", ist(2026, time.January, 5, 9, 15), true},
		{"midday", ist(2026, time.January, 5, 12, 0), true},
		{"last minute", ist(2026, time.January, 5, 15, 29), true},
		{"at close", ist(2026, time.January, 5, 15, 30), false},
		{"saturday", ist(2026, time.January, 3, 11, 0), false},
		{"republic day", ist(2026, time.January, 26, 11, 0), false},
		{"utc input", time.Date(2026, time.January, 5, 4, 0, 0, 0, time.UTC), true}, // 09:30 IST
	}
	for _, c := range cases {
		if got := IsMarketOpen(c.t); got != c.want {
			t.Errorf("%s: IsMarketOpen(%v) = %v, want %v", c.name, c.t, got, c.want)
		}
	}
}

func TestNextOpen(t *testing.T) {
	// Friday after close → Monday 09:15.
	got := NextOpen(ist(2026, time.January, 9, 16, 0))
	want := ist(2026, time.January, 12, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	// Early morning on a trading day → today.
	got = NextOpen(ist(2026, time.January, 12, 8, 0))
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	// Day before a holiday → skips it.
	got = NextOpen(ist(2026, time.January, 23, 16, 0)) // Friday; Monday 26th is a holiday
	want = ist(2026, time.January, 27, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}
}

func TestAddHoliday(t *testing.T) {
	day := ist(2027, time.January, 26, 11, 0)
	if !IsMarketOpen(day) {
		t.Fatal("expected open before the holiday is registered")
	}
	AddHoliday(2027, time.January, 26)
	if IsMarketOpen(day) {
		t.Error("expected closed on registered holiday")
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(ist(2026, time.January, 5, 15, 0)); d != 30*time.Minute {
		t.Errorf("expected 30m, got %v", d)
	}
	if d := TimeUntilClose(ist(2026, time.January, 5, 16, 0)); d != 0 {
		t.Errorf("expected 0 after close, got %v", d)
	}
}

func TestWatch_ReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	clock := ist(2026, time.January, 5, 9, 14)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	states := make(chan bool, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, time.Millisecond, now, func(open bool) { states <- open })

	if got := <-states; got {
		t.Fatal("expected initial state closed")
	}

	mu.Lock()
	clock = ist(2026, time.January, 5, 9, 15)
	mu.Unlock()

	select {
	case got := <-states:
		if !got {
			t.Fatal("expected open transition")
		}
	case <-time.After(time.Second):
		t.Fatal("no transition reported")
	}
}
