package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/charge-controller/internal/logger"
	"github.com/sweeney/charge-controller/internal/logic"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	// OnCommand, if set, is called for every message on TopicCommand and
	// its return value is published on TopicReply.
	OnCommand CommandHandler
	Log       *logger.Logger
}

// transport is the slice of the paho client the publisher needs.
type transport interface {
	connected() bool
	send(topic string, qos byte, retained bool, payload []byte) error
}

type pahoTransport struct {
	client paho.Client
}

func (t pahoTransport) connected() bool {
	return t.client.IsConnectionOpen()
}

func (t pahoTransport) send(topic string, qos byte, retained bool, payload []byte) error {
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are held in a ring buffer and flushed on reconnect.
type RealPublisher struct {
	mu        sync.Mutex
	tr        transport
	buffer    *ringBuffer
	onCommand CommandHandler
	log       *logger.Logger
	client    paho.Client
}

func newPublisher(tr transport, opts Options) *RealPublisher {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &RealPublisher{
		tr:        tr,
		buffer:    newRingBuffer(size),
		onCommand: opts.OnCommand,
		log:       log,
	}
}

// NewRealPublisher creates a publisher for the given broker. The client
// keeps retrying in the background if the first connect does not complete,
// so a missing broker at boot is logged rather than fatal.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: broker address is required")
	}
	id := opts.ClientID
	if id == "" {
		id = "charge-controller"
	}
	id += "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	p := newPublisher(nil, opts)
	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(id).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, false).
		// Command handlers publish a reply and wait on its token; they must
		// not run on the client's ordered delivery goroutine.
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warnw("mqtt connection lost", "error", err)
		})

	client := paho.NewClient(pahoOpts)
	p.client = client
	p.tr = pahoTransport{client: client}

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Warnw("mqtt broker not reachable yet, buffering", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect() {
	p.log.Infow("mqtt connected")
	if p.onCommand != nil && p.client != nil {
		p.client.Subscribe(TopicCommand, 1, func(_ paho.Client, m paho.Message) {
			p.handleCommand(m.Payload())
		})
	}
	p.flush()
}

// handleCommand runs one command payload and publishes the reply.
func (p *RealPublisher) handleCommand(payload []byte) {
	line := strings.TrimSpace(string(payload))
	if line == "" || p.onCommand == nil {
		return
	}
	reply := p.onCommand(line)
	p.log.Debugw("mqtt command", "command", line, "reply", reply)
	if err := p.enqueue(outboundMsg{topic: TopicReply, payload: []byte(reply), qos: 1}); err != nil {
		p.log.Warnw("mqtt reply failed", "error", err)
	}
}

// flush sends everything buffered while disconnected, oldest first.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

// flushLocked drains the buffer in order and reports whether it emptied.
// If a send fails the unsent tail goes back into the buffer.
func (p *RealPublisher) flushLocked() bool {
	pending := p.buffer.drainAll()
	if len(pending) == 0 {
		return true
	}
	p.log.Infow("mqtt replaying buffered messages", "count", len(pending))
	for i, m := range pending {
		if err := p.tr.send(m.topic, m.qos, m.retained, m.payload); err != nil {
			p.log.Warnw("mqtt replay interrupted", "error", err, "remaining", len(pending)-i)
			for _, rest := range pending[i:] {
				p.buffer.push(rest)
			}
			return false
		}
	}
	return true
}

// enqueue sends m now if possible, otherwise buffers it. A backlog left by
// an earlier failed send is retried first, so messages are never sent
// ahead of older buffered ones.
func (p *RealPublisher) enqueue(m outboundMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tr != nil && p.tr.connected() && p.flushLocked() {
		err := p.tr.send(m.topic, m.qos, m.retained, m.payload)
		if err == nil {
			return nil
		}
		p.log.Warnw("mqtt publish failed, buffering", "topic", m.topic, "error", err)
	}
	if p.buffer.push(m) {
		p.log.Warnw("mqtt buffer full, dropping oldest", "capacity", len(p.buffer.buf))
	}
	return nil
}

// Publish sends a transition event (QoS 0, not retained).
func (p *RealPublisher) Publish(tr logic.Transition) error {
	payload, err := FormatPayload(tr)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.enqueue(outboundMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a lifecycle event (QoS 1).
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.enqueue(outboundMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr != nil && p.tr.connected()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(1000)
	}
	return nil
}
