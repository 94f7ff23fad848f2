package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/leafguard/internal/logging"
)

const (
    publishBuffer  = 256
    dialTimeout    = 5 * time.Second
    publishTimeout = 5 * time.Second
    drainTimeout   = 5 * time.Second
)

// ErrPublisherFull is returned when events arrive faster than the broker
// accepts them and the buffer is exhausted.
var ErrPublisherFull = errors.New("publisher buffer full")

// dial opens a broker connection with a bounded TCP connect.
func dial(url string) (*amqp.Connection, error) {
    return amqp.DialConfig(url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(dialTimeout),
    })
}

// Publisher sends AnalysisCompletedEvent messages to RabbitMQ.  Events are
// buffered and sent by Run, so callers never wait on the broker.  The
// connection is opened lazily and re-dialled after the broker drops it.
type Publisher struct {
    url    string
    events chan AnalysisCompletedEvent

    mu   sync.Mutex
    conn *amqp.Connection
}

// NewPublisher does not dial; the first send does.
func NewPublisher(url string) *Publisher {
    return newPublisher(url, publishBuffer)
}

func newPublisher(url string, buffer int) *Publisher {
    return &Publisher{url: url, events: make(chan AnalysisCompletedEvent, buffer)}
}

// PublishAnalysisCompleted queues ev for Run.  It never blocks.
func (p *Publisher) PublishAnalysisCompleted(_ context.Context, ev AnalysisCompletedEvent) error {
    select {
    case p.events <- ev:
        return nil
    default:
        return ErrPublisherFull
    }
}

// Run sends queued events until ctx is cancelled, then makes one bounded
// attempt to flush what is still buffered.
func (p *Publisher) Run(ctx context.Context) error {
    log := logging.With("publisher")
    for {
        select {
        case ev := <-p.events:
            if err := p.publish(ctx, ev); err != nil {
                log.Warn().Err(err).Str("entry_id", ev.EntryID).Msg("analysis event dropped")
            }
        case <-ctx.Done():
            p.drain()
            return ctx.Err()
        }
    }
}

func (p *Publisher) drain() {
    ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
    defer cancel()
    for {
        select {
        case ev := <-p.events:
            if err := p.publish(ctx, ev); err != nil {
                logging.Warn().Err(err).Str("entry_id", ev.EntryID).Msg("analysis event dropped on shutdown")
            }
        default:
            return
        }
    }
}

// connection returns the cached connection or dials a new one.  The lock
// is not held while dialling.
func (p *Publisher) connection() (*amqp.Connection, error) {
    p.mu.Lock()
    conn := p.conn
    p.mu.Unlock()
    if conn != nil && !conn.IsClosed() {
        return conn, nil
    }

    conn, err := dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial: %w", err)
    }
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn != nil && !p.conn.IsClosed() {
        _ = conn.Close()
        return p.conn, nil
    }
    p.conn = conn
    return conn, nil
}

// publish sends ev to the analysis.completed queue as a persistent JSON message.
func (p *Publisher) publish(ctx context.Context, ev AnalysisCompletedEvent) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    conn, err := p.connection()
    if err != nil {
        return err
    }
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("open channel: %w", err)
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(AnalysisQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("declare queue: %w", err)
    }

    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }

    pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
    defer cancel()
    return ch.PublishWithContext(pubCtx, "", AnalysisQueueName, false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    })
}

// Close releases the broker connection.  Call it after Run has returned.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil || p.conn.IsClosed() {
        return nil
    }
    return p.conn.Close()
}
