/**
 * @description
 * This package publishes normalized donation and dispute records to the CRM
 * ingestion queue over RabbitMQ. Publishing is fire-and-forget relative to the
 * donor-facing request: messages are handed to a single background publisher
 * goroutine and the HTTP response never waits on broker confirmation. Delivery
 * beyond the exchange is the queue transport's concern, and exactly-once
 * ingestion is the CRM side's dedup boundary; each message carries a uuid so
 * the consumer can deduplicate redeliveries.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - github.com/google/uuid: Message ids for downstream deduplication.
 */
package basketqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/enterstudio/donation-service/internal/currency"
	"github.com/enterstudio/donation-service/internal/domain"
)

const publishTimeout = 10 * time.Second

// Publisher is the interface implemented by types that can queue basket
// messages for the CRM.
type Publisher interface {
	Queue(msg domain.BasketMessage)
	Close()
}

// ZeroDecimalCurrencyFix converts a provider minor-unit amount into the
// decimal donor-facing amount the CRM contract requires. Outbound
// donation_amount is always decimal units, never minor units.
func ZeroDecimalCurrencyFix(minor int64, currencyCode string) float64 {
	return currency.ToDecimalUnits(minor, currencyCode)
}

// Producer publishes basket messages to a durable topic exchange.
type Producer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
	pending    chan domain.BasketMessage
	done       chan struct{}

	mu     sync.Mutex
	closed bool
}

// FallbackProducer is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup. Donations still process; CRM records are dropped
// with a warning until the broker comes back and the service restarts.
type FallbackProducer struct{}

func (p *FallbackProducer) Queue(msg domain.BasketMessage) {
	log.Printf("level=warn component=basket_queue mode=fallback msg=\"queue skipped\" event_type=%s transaction_id=%s", msg.EventType, msg.TransactionID)
}

func (p *FallbackProducer) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer connects to RabbitMQ and starts the background publisher.
func NewProducer(amqpURL, exchange, routingKey string) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	p := &Producer{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		pending:    make(chan domain.BasketMessage, 64),
		done:       make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Queue hands a message to the background publisher and returns immediately.
// When the buffer is full the message is dropped with a warning rather than
// blocking a donor-facing request.
func (p *Producer) Queue(msg domain.BasketMessage) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		log.Printf("level=warn component=basket_queue msg=\"producer closed; message dropped\" event_type=%s transaction_id=%s", msg.EventType, msg.TransactionID)
		return
	}
	select {
	case p.pending <- msg:
	default:
		log.Printf("level=warn component=basket_queue msg=\"buffer full; message dropped\" event_type=%s transaction_id=%s", msg.EventType, msg.TransactionID)
	}
}

// run drains the pending buffer. Publish failures are logged and dropped;
// callers never observe them.
func (p *Producer) run() {
	for msg := range p.pending {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.publish(ctx, msg); err != nil {
			log.Printf("level=error component=basket_queue msg=\"publish failed\" event_type=%s transaction_id=%s err=%v", msg.EventType, msg.TransactionID, err)
		}
		cancel()
	}
	close(p.done)
}

func (p *Producer) publish(ctx context.Context, msg domain.BasketMessage) error {
	if err := p.channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		log.Printf("level=warn component=basket_queue msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", p.exchange, err)
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return chErr
		}
		p.channel = ch
		if err2 := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err2 != nil {
			return err2
		}
	}

	jsonBody, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   msg.MessageID,
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, publishing)
	if err != nil {
		// One-shot retry: reopen channel and try again
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if exErr := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); exErr != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, publishing)
	}
	return nil
}

// Close stops the publisher after draining buffered messages and closes the
// connection to RabbitMQ. Safe to call more than once; later Queue calls are
// dropped with a warning instead of panicking.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.pending)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(publishTimeout):
		log.Printf("level=warn component=basket_queue msg=\"close timed out waiting for drain\"")
	}
	// On the timeout path run() may still hold an in-flight publish; the
	// amqp connection and channel are safe to close concurrently and the
	// aborted publish surfaces as a logged error inside run().
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
