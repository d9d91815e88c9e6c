// Package config loads daemon configuration from defaults, an optional YAML
// file, CHARGE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/charge-controller/internal/gpio"
	"github.com/sweeney/charge-controller/internal/logic"
)

// Device backends.
const (
	DeviceSim  = "sim"
	DeviceGPIO = "gpio"
)

// ConsoleStdin and ConsoleOff are the non-serial console settings.
const (
	ConsoleStdin = "stdin"
	ConsoleOff   = "off"
)

// Config is the resolved daemon configuration.
type Config struct {
	Tick     time.Duration
	Debounce time.Duration

	Device string
	GPIO   GPIO

	Console     string // stdin, off, or a serial device path
	ConsoleBaud int

	MQTT MQTT
	HTTP HTTP

	JournalPath string
	LogLevel    string

	PrintState bool
	Demo       bool

	// File is the config file that was read, if any.
	File string
}

// GPIO configures the hardware backend.
type GPIO struct {
	Chip string
	Pins gpio.Pins
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker    string // empty disables MQTT
	ClientID  string
	Heartbeat time.Duration
	Buffer    int
}

// HTTP configures the status server.
type HTTP struct {
	Addr        string // empty disables HTTP
	TokenSecret string // empty disables command auth
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick", 10*time.Millisecond)
	v.SetDefault("debounce", logic.DefaultDebounce)
	v.SetDefault("device", DeviceSim)
	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("gpio.pin_pilot", gpio.DefaultPins.PilotOK)
	v.SetDefault("gpio.pin_fault", gpio.DefaultPins.Fault)
	v.SetDefault("gpio.pin_button", gpio.DefaultPins.Button)
	v.SetDefault("gpio.pin_contactor", gpio.DefaultPins.Contactor)
	v.SetDefault("gpio.pin_led", gpio.DefaultPins.LED)
	v.SetDefault("console", ConsoleStdin)
	// Top-level key: "console" is a scalar, so the baud rate cannot nest under it.
	v.SetDefault("console_baud", 115200)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "charge-controller")
	v.SetDefault("mqtt.heartbeat", 15*time.Minute)
	v.SetDefault("mqtt.buffer", 100)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.token_secret", "")
	v.SetDefault("journal.path", "charge-controller.db")
	v.SetDefault("log.level", "info")
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"tick":      "tick",
	"debounce":  "debounce",
	"device":    "device",
	"gpio-chip": "gpio.chip",
	"console":   "console",
	"baud":      "console_baud",
	"broker":    "mqtt.broker",
	"client-id": "mqtt.client_id",
	"heartbeat": "mqtt.heartbeat",
	"http":      "http.addr",
	"journal":   "journal.path",
	"log-level": "log.level",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("charge-controller", pflag.ContinueOnError)
	fs.String("config", "", "config file (default: charge-controller.yaml in . or /etc/charge-controller)")
	fs.Duration("tick", 10*time.Millisecond, "control loop sampling interval")
	fs.Duration("debounce", logic.DefaultDebounce, "button debounce window")
	fs.String("device", DeviceSim, `digital I/O backend ("sim" or "gpio")`)
	fs.String("gpio-chip", "gpiochip0", "GPIO character device")
	fs.String("console", ConsoleStdin, `command console ("stdin", "off", or a serial device path)`)
	fs.Int("baud", 115200, "serial console baud rate")
	fs.String("broker", "", "MQTT broker address (empty to disable)")
	fs.String("client-id", "charge-controller", "MQTT client id prefix")
	fs.Duration("heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.String("journal", "charge-controller.db", "transition journal SQLite file (empty to disable)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("print-state", false, "print the current inputs and exit")
	fs.Bool("demo", false, "run the scripted charge session on the simulated device")
	return fs
}

// Load resolves the configuration from args (without the program name).
func Load(args []string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix("CHARGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, _ := fs.GetString("config")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("charge-controller")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/charge-controller")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	printState, _ := fs.GetBool("print-state")
	demo, _ := fs.GetBool("demo")

	cfg := Config{
		Tick:     v.GetDuration("tick"),
		Debounce: v.GetDuration("debounce"),
		Device:   strings.ToLower(v.GetString("device")),
		GPIO: GPIO{
			Chip: v.GetString("gpio.chip"),
			Pins: gpio.Pins{
				PilotOK:   v.GetInt("gpio.pin_pilot"),
				Fault:     v.GetInt("gpio.pin_fault"),
				Button:    v.GetInt("gpio.pin_button"),
				Contactor: v.GetInt("gpio.pin_contactor"),
				LED:       v.GetInt("gpio.pin_led"),
			},
		},
		Console:     v.GetString("console"),
		ConsoleBaud: v.GetInt("console_baud"),
		MQTT: MQTT{
			Broker:    v.GetString("mqtt.broker"),
			ClientID:  v.GetString("mqtt.client_id"),
			Heartbeat: v.GetDuration("mqtt.heartbeat"),
			Buffer:    v.GetInt("mqtt.buffer"),
		},
		HTTP: HTTP{
			Addr:        v.GetString("http.addr"),
			TokenSecret: v.GetString("http.token_secret"),
		},
		JournalPath: v.GetString("journal.path"),
		LogLevel:    v.GetString("log.level"),
		PrintState:  printState,
		Demo:        demo,
		File:        v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and combinations.
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %v", c.Tick)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %v", c.Debounce)
	}
	switch c.Device {
	case DeviceSim, DeviceGPIO:
	default:
		return fmt.Errorf("unknown device %q (want %q or %q)", c.Device, DeviceSim, DeviceGPIO)
	}
	if c.Demo && c.Device != DeviceSim {
		return errors.New("demo requires the simulated device")
	}
	if c.MQTT.Buffer <= 0 {
		return fmt.Errorf("mqtt buffer must be positive, got %d", c.MQTT.Buffer)
	}
	return nil
}
