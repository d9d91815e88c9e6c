package main

import (
	"context"
	"time"

	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/logger"
)

// demoStep waits, then drives one simulated input.
type demoStep struct {
	wait time.Duration
	sig  gpio.Signal
	on   bool
	note string
}

// demoScript walks a full session: plug in, start, fault, clear, reset.
var demoScript = []demoStep{
	{5 * time.Second, gpio.PilotOK, true, "vehicle connected"},
	{5 * time.Second, gpio.Button, true, "start button pressed"},
	{100 * time.Millisecond, gpio.Button, false, "start button released"},
	{8 * time.Second, gpio.Fault, true, "fault raised"},
	{5 * time.Second, gpio.Fault, false, "fault cleared"},
	{1 * time.Second, gpio.Button, true, "reset button pressed"},
	{100 * time.Millisecond, gpio.Button, false, "reset button released"},
}

type inputSetter interface {
	SetInput(sig gpio.Signal, on bool) error
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func runDemo(ctx context.Context, dev inputSetter, script []demoStep, sleep func(context.Context, time.Duration) bool, log *logger.Logger) error {
	log.Infow("demo starting", "steps", len(script))
	for _, s := range script {
		if !sleep(ctx, s.wait) {
			return ctx.Err()
		}
		log.Infow("demo: "+s.note, "input", s.sig, "level", bit(s.on))
		if err := dev.SetInput(s.sig, s.on); err != nil {
			return err
		}
	}
	log.Infow("demo complete")
	return nil
}
