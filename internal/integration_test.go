package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/charge-controller/internal/command"
	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/journal"
	"github.com/sweeney/charge-controller/internal/logic"
	"github.com/sweeney/charge-controller/internal/mqtt"
	"github.com/sweeney/charge-controller/internal/station"
	"github.com/sweeney/charge-controller/internal/status"
	"github.com/sweeney/charge-controller/internal/web"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// plant wires a simulated device through the station to the command
// interpreter, a fake publisher and a real SQLite journal.
type plant struct {
	t       *testing.T
	sim     *gpio.Sim
	st      *station.Station
	cli     *command.Interpreter
	pub     *mqtt.FakePublisher
	journal *journal.Journal
	now     time.Time
}

func newPlant(t *testing.T) *plant {
	t.Helper()
	p := &plant{t: t, sim: gpio.NewSim(), pub: mqtt.NewFakePublisher(), now: startTime}

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	p.journal = j

	st, err := station.New(p.sim, logic.DefaultDebounce, func() time.Time { return p.now })
	if err != nil {
		t.Fatalf("station.New: %v", err)
	}
	st.OnTransition(func(tr logic.Transition) {
		if err := p.pub.Publish(tr); err != nil {
			t.Errorf("publish: %v", err)
		}
		if _, err := j.Append(context.Background(), tr); err != nil {
			t.Errorf("journal: %v", err)
		}
	})
	p.st = st
	p.cli = command.New(st)
	return p
}

func (p *plant) run(d time.Duration) {
	p.t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += 10 * time.Millisecond {
		p.now = p.now.Add(10 * time.Millisecond)
		if err := p.st.Tick(p.now); err != nil {
			p.t.Fatalf("tick: %v", err)
		}
	}
}

func (p *plant) cmd(line, want string) {
	p.t.Helper()
	if got := p.cli.Handle(line); got != want {
		p.t.Fatalf("%s: got %q, want %q", line, got, want)
	}
}

func TestIntegrationCommandDrivenSession(t *testing.T) {
	p := newPlant(t)

	p.cmd("GET STATE", "STATE: IDLE")
	p.cmd("set in pilot_ok 1", "Input PILOT_OK set to 1")
	p.run(50 * time.Millisecond)
	p.cmd("GET STATE", "STATE: READY")

	p.cmd("SET IN BTN 1", "Input BTN set to 1")
	p.run(50 * time.Millisecond)
	p.cmd("SET IN BTN 0", "Input BTN set to 0")
	p.run(50 * time.Millisecond)
	p.cmd("GET STATE", "STATE: CHARGING")
	p.cmd("GET IO", "PILOT_OK=1 FAULT=0 BTN=0 CONTACTOR=1 LED=0")

	p.cmd("SET IN FAULT 1", "Input FAULT set to 1")
	p.run(20 * time.Millisecond)
	p.cmd("GET STATE", "STATE: FAULT")
	if p.sim.Output(gpio.Contactor) {
		t.Fatal("contactor must open on fault")
	}

	// Reset needs the fault cleared first.
	p.cmd("SET IN BTN 1", "Input BTN set to 1")
	p.run(50 * time.Millisecond)
	p.cmd("SET IN BTN 0", "Input BTN set to 0")
	p.run(50 * time.Millisecond)
	p.cmd("GET STATE", "STATE: FAULT")

	p.cmd("SET IN FAULT 0", "Input FAULT set to 0")
	p.run(20 * time.Millisecond)
	p.cmd("SET IN BTN 1", "Input BTN set to 1")
	p.run(50 * time.Millisecond)
	p.cmd("GET STATE", "STATE: IDLE")

	trs, _ := p.pub.Recorded()
	if len(trs) != 4 {
		t.Fatalf("published %d transitions, want 4", len(trs))
	}

	entries, err := p.journal.List(context.Background(), journal.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("journal has %d entries, want 4", len(entries))
	}
	for i, e := range entries {
		if e.To != trs[i].To || e.Reason != trs[i].Reason || !e.OccurredAt.Equal(trs[i].Timestamp) {
			t.Errorf("entry %d %+v does not match published %+v", i, e, trs[i])
		}
	}

	var payload mqtt.Payload
	if err := json.Unmarshal(p.pub.Payloads[1], &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Station.To != "CHARGING" || !payload.Station.Contactor {
		t.Errorf("unexpected payload %+v", payload.Station)
	}
}

func TestIntegrationLEDOverrideAcrossTransitions(t *testing.T) {
	p := newPlant(t)

	p.cmd("SET LED FAULT", "LED forced to FAULT")
	p.cmd("SET IN PILOT_OK 1", "Input PILOT_OK set to 1")
	p.run(30 * time.Millisecond)

	v := p.st.View()
	if v.State != logic.StateReady {
		t.Fatalf("state: got %s", v.State)
	}
	if v.LEDMode != logic.LedFault || v.LEDRequested != logic.LedOn || !v.Override {
		t.Errorf("override lost on transition: %+v", v)
	}

	p.cmd("CLEAR LED", "LED override cleared")
	p.run(10 * time.Millisecond)
	if !p.sim.Output(gpio.LED) {
		t.Error("LED should be steady on in READY after clearing the override")
	}
}

func TestIntegrationFaultPatternOnDevice(t *testing.T) {
	p := newPlant(t)
	p.cmd("SET IN FAULT 1", "Input FAULT set to 1")
	p.run(10 * time.Millisecond)
	if p.st.State() != logic.StateFault {
		t.Fatalf("state: got %s", p.st.State())
	}

	// Ten seconds of double flashes.
	rises, prev := 0, p.sim.Output(gpio.LED)
	for i := 0; i < 1000; i++ {
		p.run(10 * time.Millisecond)
		cur := p.sim.Output(gpio.LED)
		if cur && !prev {
			rises++
		}
		prev = cur
	}
	if rises != 20 {
		t.Errorf("rising edges in 10s: got %d, want 20", rises)
	}
}

func TestIntegrationWebReadsJournalAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := newPlant(t)
	p.cmd("SET IN FAULT 1", "Input FAULT set to 1")
	p.run(10 * time.Millisecond)

	tracker := status.NewTracker(startTime, status.Config{Device: "sim"})
	tracker.Update(p.st.View())
	h := web.New(web.Options{
		Tracker:  tracker,
		Events:   p.journal,
		Commands: p.cli,
	}).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?state=FAULT", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("events status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Events []journal.Entry `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Reason != logic.ReasonFaultEdge {
		t.Errorf("unexpected events %+v", resp.Events)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader("GET STATE")))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "STATE: FAULT") {
		t.Errorf("command: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/index.json", nil))
	if !strings.Contains(w.Body.String(), `"state": "FAULT"`) {
		t.Errorf("index.json: %s", w.Body.String())
	}
}
