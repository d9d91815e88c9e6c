// Command charge-controller runs the EV charging station controller: it
// samples the pilot, fault and button lines, drives the contactor and the
// status LED, and exposes the station over a text console, MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/sweeney/charge-controller/internal/command"
	"github.com/sweeney/charge-controller/internal/config"
	"github.com/sweeney/charge-controller/internal/console"
	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/journal"
	"github.com/sweeney/charge-controller/internal/logger"
	"github.com/sweeney/charge-controller/internal/logic"
	"github.com/sweeney/charge-controller/internal/mqtt"
	"github.com/sweeney/charge-controller/internal/station"
	"github.com/sweeney/charge-controller/internal/status"
	"github.com/sweeney/charge-controller/internal/web"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("fatal", "error", err)
	}
}

func openDevice(cfg config.Config) (gpio.Device, error) {
	if cfg.Device == config.DeviceGPIO {
		return gpio.NewReal(cfg.GPIO.Chip, cfg.GPIO.Pins)
	}
	return gpio.NewSim(), nil
}

func run(cfg config.Config, log *logger.Logger) error {
	dev, err := openDevice(cfg)
	if err != nil {
		return fmt.Errorf("init %s device: %w", cfg.Device, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warnw("close device", "error", err)
		}
	}()

	if cfg.PrintState {
		in, err := dev.Read()
		if err != nil {
			return fmt.Errorf("read inputs: %w", err)
		}
		fmt.Println(formatInputs(in))
		return nil
	}

	st, err := station.New(dev, cfg.Debounce, time.Now)
	if err != nil {
		// Retried on every tick.
		log.Warnw("apply startup outputs", "error", err)
	}
	interp := command.New(st)

	var store transitionStore
	var events web.EventLister
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		store, events = j, j
		log.Infow("journal open", "path", cfg.JournalPath)
	}

	var publisher mqtt.Publisher = mqtt.Nop{}
	var mqttStatus mqtt.ConnectionStatus = mqtt.Nop{}
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			BufferSize: cfg.MQTT.Buffer,
			OnCommand:  interp.Handle,
			Log:        log,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	wireTransitions(st, publisher, store, log)

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      cfg.Tick.Milliseconds(),
		DebounceMs:  cfg.Debounce.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		Device:      cfg.Device,
	})

	if cfg.HTTP.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := web.New(web.Options{
			Addr:        cfg.HTTP.Addr,
			Tracker:     tracker,
			Events:      events,
			Commands:    interp,
			TokenSecret: cfg.HTTP.TokenSecret,
			Log:         log,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		log.Infow("http status server listening", "addr", cfg.HTTP.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startConsole(ctx, cfg, interp, log); err != nil {
		return err
	}

	if cfg.Demo {
		go func() {
			if err := runDemo(ctx, st, demoScript, sleepCtx, log); err != nil {
				log.Warnw("demo stopped", "error", err)
			}
		}()
	}

	log.Infow("started",
		"device", cfg.Device,
		"tick", cfg.Tick,
		"debounce", cfg.Debounce,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.MQTT.Heartbeat,
		"config", cfg.File,
	)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(st, publisher, mqttStatus, tracker, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh, log)
}

// startConsole attaches the command interpreter to stdin or a UART.
func startConsole(ctx context.Context, cfg config.Config, h console.Handler, log *logger.Logger) error {
	var c *console.Console
	switch cfg.Console {
	case config.ConsoleOff, "":
		return nil
	case config.ConsoleStdin:
		c = console.New(os.Stdin, os.Stdout, h, console.WithLogger(log))
	default:
		port, err := console.OpenSerial(cfg.Console, cfg.ConsoleBaud)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			_ = port.Close()
		}()
		c = console.New(port, port, h, console.WithEOL("\r\n"), console.WithLogger(log))
	}

	go func() {
		if err := c.Run(ctx); err != nil {
			log.Warnw("console stopped", "error", err)
		}
	}()
	log.Infow("command console ready", "console", cfg.Console)
	return nil
}

// transitionStore is the journal as seen by the transition listener.
type transitionStore interface {
	Append(ctx context.Context, tr logic.Transition) (journal.Entry, error)
}

// wireTransitions logs, publishes and journals every state change.
// store may be nil.
func wireTransitions(st *station.Station, publisher mqtt.Publisher, store transitionStore, log *logger.Logger) {
	st.OnTransition(func(tr logic.Transition) {
		log.Infow("transition",
			"from", tr.From,
			"to", tr.To,
			"reason", tr.Reason,
			"contactor", tr.Contactor,
		)
		if err := publisher.Publish(tr); err != nil {
			log.Warnw("publish transition", "error", err)
		}
		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := store.Append(ctx, tr); err != nil {
				log.Warnw("journal transition", "error", err)
			}
		}
	})
}

func runLoop(st *station.Station, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, log *logger.Logger) error {
	lastHeartbeat := now()

	refresh := func() status.Snapshot {
		tracker.Update(st.View())
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
		return tracker.Snapshot()
	}

	snap := refresh()
	startup := mqtt.SystemEvent{
		Timestamp:  lastHeartbeat,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warnw("publish startup event", "error", err)
	}

	var lastErr string
	for {
		select {
		case s := <-sig:
			reason := signalName(s)
			log.Infow("shutting down", "signal", reason)
			snap := refresh()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "SHUTDOWN",
				Reason:     reason,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnw("publish shutdown event", "error", err)
			}
			return nil

		case <-tick:
			t := now()
			if err := st.Tick(t); err != nil {
				if msg := err.Error(); msg != lastErr {
					log.Warnw("tick error", "error", err)
					lastErr = msg
				}
			} else if lastErr != "" {
				log.Infow("device recovered")
				lastErr = ""
			}

			snap := refresh()

			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				c := snap.Station.Counts
				log.Infow("heartbeat",
					"state", snap.Station.State,
					"uptime", snap.Uptime().Truncate(time.Second),
					"idle", c.Idle, "ready", c.Ready, "charging", c.Charging, "fault", c.Fault,
				)
				hb := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := publisher.PublishSystem(hb); err != nil {
					log.Warnw("publish heartbeat", "error", err)
				}
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func formatInputs(in gpio.Inputs) string {
	return fmt.Sprintf("PILOT_OK=%d FAULT=%d BTN=%d", bit(in.PilotOK), bit(in.Fault), bit(in.Button))
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}
