package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/journal"
	"github.com/sweeney/charge-controller/internal/logger"
	"github.com/sweeney/charge-controller/internal/logic"
	"github.com/sweeney/charge-controller/internal/mqtt"
	"github.com/sweeney/charge-controller/internal/station"
	"github.com/sweeney/charge-controller/internal/status"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// flakyDevice wraps a Sim and fails a fixed range of Read calls.
// runLoop reads twice per tick: once in Tick, once for the status view.
type flakyDevice struct {
	*gpio.Sim
	call      int
	failStart int
	failEnd   int
}

func (d *flakyDevice) Read() (gpio.Inputs, error) {
	i := d.call
	d.call++
	if i >= d.failStart && i < d.failEnd {
		return gpio.Inputs{}, errors.New("gpio fault")
	}
	return d.Sim.Read()
}

type loopResult struct {
	err     error
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	st      *station.Station
}

// runRunLoop builds a station on dev, drives runLoop for nTicks ticks of
// 10ms, then delivers signal. between, if set, runs before each tick.
func runRunLoop(t *testing.T, dev gpio.Device, heartbeat time.Duration, nTicks int, signal os.Signal, between func(i int)) loopResult {
	t.Helper()
	st, err := station.New(dev, logic.DefaultDebounce, func() time.Time { return t0 })
	if err != nil {
		t.Fatalf("station.New: %v", err)
	}
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	wireTransitions(st, pub, nil, logger.Nop())
	tracker := status.NewTracker(t0, status.Config{HeartbeatMs: heartbeat.Milliseconds()})

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(st, pub, pub, tracker, heartbeat, fakeClock(t0, 10*time.Millisecond), tick, sig, logger.Nop())
	}()

	for i := 0; i < nTicks; i++ {
		if between != nil {
			between(i)
		}
		tick <- time.Time{}
	}
	sig <- signal

	return loopResult{err: <-errCh, pub: pub, tracker: tracker, st: st}
}

func systemEvents(pub *mqtt.FakePublisher) []string {
	_, sys := pub.Recorded()
	out := make([]string, len(sys))
	for i, e := range sys {
		out[i] = e.Event
	}
	return out
}

func TestRunLoopStartupAndShutdown(t *testing.T) {
	res := runRunLoop(t, gpio.NewSim(), 0, 5, syscall.SIGTERM, nil)
	if res.err != nil {
		t.Fatalf("runLoop returned error: %v", res.err)
	}

	trs, sys := res.pub.Recorded()
	if len(trs) != 0 {
		t.Errorf("expected no transitions, got %d", len(trs))
	}
	if got := strings.Join(systemEvents(res.pub), ","); got != "STARTUP,SHUTDOWN" {
		t.Fatalf("system events: %s", got)
	}
	if !sys[0].Retained || !sys[1].Retained {
		t.Error("startup and shutdown should be retained")
	}
	if sys[1].Reason != "SIGTERM" {
		t.Errorf("shutdown reason: got %q", sys[1].Reason)
	}
	if !strings.Contains(string(sys[1].RawPayload), `"state":"IDLE"`) {
		t.Errorf("shutdown payload missing state: %s", sys[1].RawPayload)
	}
	if !strings.Contains(string(sys[1].RawPayload), `"reason":"SIGTERM"`) {
		t.Errorf("shutdown payload missing reason: %s", sys[1].RawPayload)
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	res := runRunLoop(t, gpio.NewSim(), 0, 1, syscall.SIGINT, nil)
	_, sys := res.pub.Recorded()
	if len(sys) != 2 || sys[1].Reason != "SIGINT" {
		t.Errorf("unexpected system events: %+v", sys)
	}
}

func TestRunLoopChargeSession(t *testing.T) {
	sim := gpio.NewSim()
	script := map[int]func(){
		0:  func() { sim.SetInput(gpio.PilotOK, true) },
		5:  func() { sim.SetInput(gpio.Button, true) },
		10: func() { sim.SetInput(gpio.Button, false) },
		15: func() { sim.SetInput(gpio.Fault, true) },
		20: func() { sim.SetInput(gpio.Fault, false) },
		25: func() { sim.SetInput(gpio.Button, true) },
		30: func() { sim.SetInput(gpio.Button, false) },
	}
	res := runRunLoop(t, sim, 0, 35, syscall.SIGTERM, func(i int) {
		if fn, ok := script[i]; ok {
			fn()
		}
	})
	if res.err != nil {
		t.Fatalf("runLoop returned error: %v", res.err)
	}

	trs, _ := res.pub.Recorded()
	want := []struct {
		to     logic.State
		reason logic.Reason
	}{
		{logic.StateReady, logic.ReasonPilotRise},
		{logic.StateCharging, logic.ReasonButton},
		{logic.StateFault, logic.ReasonFaultEdge},
		{logic.StateIdle, logic.ReasonFaultReset},
	}
	if len(trs) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), trs)
	}
	for i, w := range want {
		if trs[i].To != w.to || trs[i].Reason != w.reason {
			t.Errorf("transition %d: got %s/%s, want %s/%s", i, trs[i].To, trs[i].Reason, w.to, w.reason)
		}
	}
	if !trs[1].Contactor || trs[2].Contactor {
		t.Error("contactor should close on CHARGING and open on FAULT")
	}

	snap := res.tracker.Snapshot()
	if snap.Station.State != logic.StateIdle {
		t.Errorf("tracker state: got %s", snap.Station.State)
	}
	if snap.Station.Counts.Fault != 1 || snap.Station.Counts.Charging != 1 {
		t.Errorf("tracker counts: %+v", snap.Station.Counts)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should mirror MQTT connection")
	}
	if sim.Output(gpio.Contactor) {
		t.Error("contactor should be open at the end")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Ticks land at 10ms..120ms; heartbeats at 50ms and 100ms.
	res := runRunLoop(t, gpio.NewSim(), 50*time.Millisecond, 12, syscall.SIGTERM, nil)

	if got := strings.Join(systemEvents(res.pub), ","); got != "STARTUP,HEARTBEAT,HEARTBEAT,SHUTDOWN" {
		t.Fatalf("system events: %s", got)
	}
	_, sys := res.pub.Recorded()
	if want := t0.Add(50 * time.Millisecond); !sys[1].Timestamp.Equal(want) {
		t.Errorf("first heartbeat at %v, want %v", sys[1].Timestamp, want)
	}
	if sys[1].Retained {
		t.Error("heartbeat should not be retained")
	}
	if !strings.Contains(string(sys[1].RawPayload), `"event":"HEARTBEAT"`) {
		t.Errorf("heartbeat payload: %s", sys[1].RawPayload)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	res := runRunLoop(t, gpio.NewSim(), 0, 50, syscall.SIGTERM, nil)
	for _, e := range systemEvents(res.pub) {
		if e == "HEARTBEAT" {
			t.Fatal("heartbeat published while disabled")
		}
	}
}

func TestRunLoopReadErrorRecovery(t *testing.T) {
	sim := gpio.NewSim()
	sim.SetInput(gpio.PilotOK, true)
	// Call 0 is the startup view; ticks 1-3 use calls 1-6.
	dev := &flakyDevice{Sim: sim, failStart: 1, failEnd: 7}

	res := runRunLoop(t, dev, 0, 6, syscall.SIGTERM, nil)
	if res.err != nil {
		t.Fatalf("runLoop returned error: %v", res.err)
	}

	trs, _ := res.pub.Recorded()
	if len(trs) != 1 || trs[0].To != logic.StateReady {
		t.Fatalf("expected one transition to READY, got %+v", trs)
	}
	if want := t0.Add(40 * time.Millisecond); !trs[0].Timestamp.Equal(want) {
		t.Errorf("transition at %v, want %v (first good tick)", trs[0].Timestamp, want)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	sim := gpio.NewSim()
	st, _ := station.New(sim, logic.DefaultDebounce, func() time.Time { return t0 })
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	pub.PublishSystemError = errors.New("broker down")
	wireTransitions(st, pub, nil, logger.Nop())
	tracker := status.NewTracker(t0, status.Config{})

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(st, pub, pub, tracker, 0, fakeClock(t0, 10*time.Millisecond), tick, sig, logger.Nop())
	}()

	sim.SetInput(gpio.PilotOK, true)
	for i := 0; i < 3; i++ {
		tick <- time.Time{}
	}
	sig <- syscall.SIGTERM

	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if st.State() != logic.StateReady {
		t.Errorf("publish failure should not affect control, state %s", st.State())
	}
}

type fakeStore struct {
	mu  sync.Mutex
	trs []logic.Transition
	err error
}

func (f *fakeStore) Append(_ context.Context, tr logic.Transition) (journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return journal.Entry{}, f.err
	}
	f.trs = append(f.trs, tr)
	return journal.Entry{ID: "x", To: tr.To}, nil
}

func TestWireTransitionsJournal(t *testing.T) {
	sim := gpio.NewSim()
	now := t0
	st, _ := station.New(sim, logic.DefaultDebounce, func() time.Time { return now })
	pub := mqtt.NewFakePublisher()
	store := &fakeStore{}
	wireTransitions(st, pub, store, logger.Nop())

	sim.SetInput(gpio.PilotOK, true)
	st.Tick(now.Add(10 * time.Millisecond))
	sim.SetInput(gpio.PilotOK, false)
	st.Tick(now.Add(20 * time.Millisecond))

	if len(store.trs) != 2 {
		t.Fatalf("journal entries: got %d, want 2", len(store.trs))
	}
	if store.trs[1].Reason != logic.ReasonPilotFall {
		t.Errorf("second entry: %+v", store.trs[1])
	}
	trs, _ := pub.Recorded()
	if len(trs) != 2 {
		t.Errorf("published: got %d, want 2", len(trs))
	}
}

func TestWireTransitionsJournalErrorDoesNotBlockPublish(t *testing.T) {
	sim := gpio.NewSim()
	st, _ := station.New(sim, logic.DefaultDebounce, func() time.Time { return t0 })
	pub := mqtt.NewFakePublisher()
	wireTransitions(st, pub, &fakeStore{err: errors.New("disk full")}, logger.Nop())

	sim.SetInput(gpio.Fault, true)
	st.Tick(t0.Add(10 * time.Millisecond))

	trs, _ := pub.Recorded()
	if len(trs) != 1 || trs[0].To != logic.StateFault {
		t.Errorf("expected FAULT published, got %+v", trs)
	}
}

func TestRunDemo(t *testing.T) {
	sim := gpio.NewSim()
	now := t0
	st, err := station.New(sim, logic.DefaultDebounce, func() time.Time { return now })
	if err != nil {
		t.Fatalf("station.New: %v", err)
	}
	var trs []logic.Transition
	st.OnTransition(func(tr logic.Transition) { trs = append(trs, tr) })

	// Time only passes while the script sleeps.
	sleep := func(_ context.Context, d time.Duration) bool {
		for elapsed := time.Duration(0); elapsed < d; elapsed += 10 * time.Millisecond {
			now = now.Add(10 * time.Millisecond)
			st.Tick(now)
		}
		return true
	}

	if err := runDemo(context.Background(), st, demoScript, sleep, logger.Nop()); err != nil {
		t.Fatalf("runDemo: %v", err)
	}

	want := []logic.State{logic.StateReady, logic.StateCharging, logic.StateFault, logic.StateIdle}
	if len(trs) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), trs)
	}
	for i, s := range want {
		if trs[i].To != s {
			t.Errorf("transition %d: got %s, want %s", i, trs[i].To, s)
		}
	}
	if trs[3].Reason != logic.ReasonFaultReset {
		t.Errorf("last reason: got %s", trs[3].Reason)
	}
}

func TestRunDemoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim := gpio.NewSim()

	err := runDemo(ctx, sim, demoScript, sleepCtx, logger.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	in, _ := sim.Read()
	if in != (gpio.Inputs{}) {
		t.Errorf("no input should change, got %+v", in)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %s, want %s", tt.sig, got, tt.want)
		}
	}
}

func TestFormatInputs(t *testing.T) {
	got := formatInputs(gpio.Inputs{PilotOK: true, Button: true})
	if got != "PILOT_OK=1 FAULT=0 BTN=1" {
		t.Errorf("got %q", got)
	}
}
