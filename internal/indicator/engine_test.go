package indicator

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketdesk/internal/model"
)

func minuteCandle(symbol string, i int, close float64) model.Candle {
	return model.Candle{
		Symbol: symbol,
		Time:   t0.Add(time.Duration(i) * time.Minute),
		Open:   close, High: close + 1, Low: close - 1, Close: close,
		Volume: 100,
	}
}

func TestEngine_UpdateReturnsOneReadingPerIndicator(t *testing.T) {
	engine := NewEngine([]Settings{RSISettings{}, EMASettings{Period: 5}, MACDSettings{}, CPRSettings{}}, 100)

	var readings []Reading
	for i := 0; i < 30; i++ {
		readings = engine.Update(minuteCandle("NIFTY50", i, 22000))
	}
	if len(readings) != 4 {
		t.Fatalf("expected 4 readings, got %d", len(readings))
	}
	if readings[1].Name != "EMA5" {
		t.Errorf("expected EMA5, got %s", readings[1].Name)
	}
	assertClose(t, "EMA5 constant", readings[1].Value, 22000, 1e-6)
	if readings[0].Symbol != "NIFTY50" {
		t.Errorf("expected symbol NIFTY50, got %s", readings[0].Symbol)
	}
	if _, ok := readings[3].Levels["r1"]; !ok {
		t.Error("expected CPR reading to carry r1 level")
	}
	if !readings[0].TS.Equal(t0.Add(29 * time.Minute)) {
		t.Errorf("unexpected reading ts %v", readings[0].TS)
	}
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	engine := NewEngine([]Settings{EMASettings{Period: 3}}, 5)
	for i := 0; i < 12; i++ {
		engine.Update(minuteCandle("BANKNIFTY", i, float64(100+i)))
	}

	candles := engine.Candles("BANKNIFTY")
	if len(candles) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(candles))
	}
	assertClose(t, "oldest kept", candles[0].Close, 107, 0)

	series := engine.Series("BANKNIFTY")
	if len(series) != 1 || len(series[0].Values) != 5 {
		t.Fatalf("expected one series of 5 values, got %+v", series)
	}
	// EMA re-seeds at the oldest retained candle
	assertClose(t, "EMA seed", series[0].Values[0], 107, 1e-9)
}

func TestEngine_SameTimestampReplacesFormingCandle(t *testing.T) {
	engine := NewEngine([]Settings{EMASettings{Period: 3}}, 10)
	engine.Update(minuteCandle("A", 0, 100))
	engine.Update(minuteCandle("A", 1, 100))
	engine.Update(minuteCandle("A", 1, 104))

	if n := len(engine.Candles("A")); n != 2 {
		t.Fatalf("expected 2 candles, got %d", n)
	}
	// 100 → 104*0.5 + 100*0.5
	assertClose(t, "EMA after replace", engine.Series("A")[0].Values[1], 102, 1e-9)
}

func TestEngine_UnknownSymbol(t *testing.T) {
	engine := NewEngine([]Settings{RSISettings{}}, 0)
	if s := engine.Series("NOPE"); s != nil {
		t.Errorf("expected nil series, got %v", s)
	}
	if c := engine.Candles("NOPE"); c != nil {
		t.Errorf("expected nil candles, got %v", c)
	}
}

func TestEngine_SymbolsIsolated(t *testing.T) {
	engine := NewEngine([]Settings{EMASettings{Period: 2}}, 50)
	for i := 0; i < 10; i++ {
		engine.Update(minuteCandle("A", i, 100))
		engine.Update(minuteCandle("B", i, 200))
	}
	assertClose(t, "A", engine.Series("A")[0].Last(), 100, 1e-9)
	assertClose(t, "B", engine.Series("B")[0].Last(), 200, 1e-9)
	if n := len(engine.Symbols()); n != 2 {
		t.Errorf("expected 2 symbols, got %d", n)
	}
}

func TestEngine_ConcurrentUpdates(t *testing.T) {
	engine := NewEngine([]Settings{RSISettings{}, BollingerSettings{}}, 64)

	var wg sync.WaitGroup
	for _, sym := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				engine.Update(minuteCandle(sym, i, float64(100+i%9)))
				_ = engine.Series(sym)
			}
		}(sym)
	}
	wg.Wait()

	for _, sym := range []string{"A", "B", "C", "D"} {
		if n := len(engine.Candles(sym)); n != 64 {
			t.Errorf("%s: expected 64 candles, got %d", sym, n)
		}
	}
}

func TestEngine_Observer(t *testing.T) {
	engine := NewEngine([]Settings{RSISettings{}, EMASettings{}}, 10)
	seen := map[string]int{}
	engine.SetObserver(func(name string, _ time.Duration) { seen[name]++ })

	engine.Update(minuteCandle("A", 0, 100))
	if seen["RSI"] != 1 || seen["EMA"] != 1 {
		t.Errorf("unexpected observer calls: %v", seen)
	}
}

func TestEngine_Run(t *testing.T) {
	engine := NewEngine([]Settings{EMASettings{Period: 3}}, 10)
	in := make(chan model.Candle, 4)
	out := make(chan Reading, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		engine.Run(ctx, in, out)
		close(done)
	}()

	in <- minuteCandle("A", 0, 100)
	select {
	case r := <-out:
		if r.Name != "EMA3" || r.Value != 100 {
			t.Errorf("unexpected reading %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reading")
	}

	close(in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
}

func TestEngine_ReloadKeepsHistory(t *testing.T) {
	engine := NewEngine([]Settings{EMASettings{Period: 3}}, 50)
	for i := 0; i < 20; i++ {
		engine.Update(minuteCandle("A", i, float64(100+i)))
	}

	if err := engine.Reload([]Settings{EMASettings{Period: 3}, RSISettings{Period: 5}}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	series := engine.Series("A")
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	// steadily rising closes: RSI already past warm-up with no losses
	assertClose(t, "RSI after reload", series[1].Last(), 100-100.0/101, 1e-9)
}

func TestEngine_ReloadRejectsInvalid(t *testing.T) {
	engine := NewEngine([]Settings{EMASettings{Period: 3}}, 50)

	cases := [][]Settings{
		{EMASettings{Period: -1}},
		{EMASettings{}, EMASettings{Period: 20}},
		{nil},
	}
	for _, c := range cases {
		if err := engine.Reload(c); err == nil {
			t.Errorf("expected error for %v", c)
		}
	}
	if s := engine.Settings(); len(s) != 1 || s[0] != (EMASettings{Period: 3}) {
		t.Errorf("settings changed after failed reload: %v", s)
	}
}

func TestParseSpecs(t *testing.T) {
	got := ParseSpecs("RSI:14, EMA:20, EMA:20, FOO, MACD, BB:20:2, ST:10:3, EMA:-1, CPR, VWAP:1")
	want := []Settings{
		RSISettings{Period: 14, Overbought: 70, Oversold: 30},
		EMASettings{Period: 20},
		MACDSettings{Fast: 12, Slow: 26, Signal: 9},
		BollingerSettings{Period: 20, Deviation: 2},
		SupertrendSettings{ATRPeriod: 10, Multiplier: 3, Source: SourceHL2},
		CPRSettings{},
		VWAPSettings{Source: SourceHLC3, Bands: true, BandMultipliers: [3]float64{1, 2, 3}},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d settings, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("spec %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseSpecsStrict(t *testing.T) {
	got, err := ParseSpecsStrict("RSI:14, EMA:20, EMA:20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected duplicates collapsed to 2 settings, got %d", len(got))
	}

	for _, spec := range []string{"RSI:14,EMA:abc", "RSI:14,FOO", "EMA:-1", " , "} {
		if _, err := ParseSpecsStrict(spec); err == nil {
			t.Errorf("%q: expected error", spec)
		}
	}
}
