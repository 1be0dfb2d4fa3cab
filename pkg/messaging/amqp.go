package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/config"
	"coachsync-server/pkg/errors"
	"coachsync-server/pkg/metrics"
)

// SnapshotEnvelope is the AMQP message carrying one aggregate snapshot.
type SnapshotEnvelope struct {
	MessageID string           `json:"message_id"`
	Timestamp time.Time        `json:"timestamp"`
	EventType string           `json:"event_type"`
	SessionID string           `json:"session_id"`
	Aggregate *coach.Aggregate `json:"aggregate"`
}

// AMQPPublisher pushes aggregate snapshots to an AMQP exchange so external
// consumers (dashboard bridges, archival) receive live session updates.
// It implements coach.Subscriber.
type AMQPPublisher struct {
	logger *logrus.Logger
	config config.MessagingConfig

	connMu  sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	queue    chan *SnapshotEnvelope
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

const publishQueueSize = 256

// NewAMQPPublisher connects to the broker, declares the exchange and queue
// and starts the publish loop.
func NewAMQPPublisher(logger *logrus.Logger, cfg config.MessagingConfig) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		logger: logger,
		config: cfg,
		queue:  make(chan *SnapshotEnvelope, publishQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.publishLoop()

	logger.WithFields(logrus.Fields{
		"exchange":    cfg.Exchange,
		"queue":       cfg.Queue,
		"routing_key": cfg.RoutingKey,
	}).Info("AMQP snapshot publisher started")

	return p, nil
}

func (p *AMQPPublisher) connect() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return errors.Wrap(err, "connect to AMQP broker")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "open AMQP channel")
	}

	if err := channel.ExchangeDeclare(p.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return errors.Wrap(err, "declare AMQP exchange")
	}

	queue, err := channel.QueueDeclare(p.config.Queue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "declare AMQP queue")
	}

	if err := channel.QueueBind(queue.Name, p.config.RoutingKey, p.config.Exchange, false, nil); err != nil {
		conn.Close()
		return errors.Wrap(err, "bind AMQP queue")
	}

	p.conn = conn
	p.channel = channel
	return nil
}

// OnAggregate implements coach.Subscriber. Updates are dropped rather than
// blocking the coordinator when the publish queue is saturated.
func (p *AMQPPublisher) OnAggregate(sessionID string, snapshot *coach.Aggregate) {
	envelope := &SnapshotEnvelope{
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
		EventType: "session.snapshot",
		SessionID: sessionID,
		Aggregate: snapshot,
	}

	select {
	case p.queue <- envelope:
	default:
		p.logger.WithField("session_id", sessionID).Warn("AMQP publish queue saturated, dropping snapshot")
	}
}

func (p *AMQPPublisher) publishLoop() {
	defer close(p.done)

	for {
		select {
		case <-p.stop:
			return
		case envelope := <-p.queue:
			if err := p.publish(envelope); err != nil {
				p.logger.WithError(err).WithField("session_id", envelope.SessionID).Warn("Failed to publish snapshot, reconnecting")
				if err := p.connect(); err != nil {
					p.logger.WithError(err).Error("AMQP reconnect failed")
					continue
				}
				if err := p.publish(envelope); err != nil {
					p.logger.WithError(err).WithField("session_id", envelope.SessionID).Error("Dropped snapshot after reconnect")
				}
			}
		}
	}
}

func (p *AMQPPublisher) publish(envelope *SnapshotEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot envelope")
	}

	p.connMu.Lock()
	channel := p.channel
	p.connMu.Unlock()
	if channel == nil {
		return errors.New("AMQP channel is not open")
	}

	err = channel.Publish(p.config.Exchange, p.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    envelope.MessageID,
		Timestamp:    envelope.Timestamp,
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, "publish snapshot")
	}

	metrics.SnapshotsPublished.WithLabelValues("amqp").Inc()
	return nil
}

// Close drains the publish loop and closes the connection.
func (p *AMQPPublisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })

	select {
	case <-p.done:
	case <-ctx.Done():
	}

	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
