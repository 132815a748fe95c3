package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
)

// Consumer listens to the order.paid queue and appends one line per paid
// order to a purchase log.  Run keeps reconnecting until its context is
// cancelled; a message that cannot be handled is rejected without requeue
// so the consumer never spins on a poison message.
type Consumer struct {
    url     string
    queue   string
    logPath string
    log     zerolog.Logger

    mu sync.Mutex // serialises writes to logPath
}

// NewConsumer returns a Consumer writing to logPath.
func NewConsumer(url, queue, logPath string, log zerolog.Logger) *Consumer {
    return &Consumer{url: url, queue: queue, logPath: logPath, log: log.With().Str("component", "purchase-consumer").Logger()}
}

// Run connects to the broker and consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.Warn().Err(err).Msg("consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn().Err(err).Msg("set QoS failed")
    }
    if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := c.Handle(d.Body); err != nil {
            c.log.Error().Err(err).Msg("handle message failed")
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

// Handle decodes one order.paid message and appends it to the purchase log.
func (c *Consumer) Handle(body []byte) error {
    var ev OrderPaidEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.OrderID == "" {
        return errors.New("event without order_id")
    }

    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    payment := "-"
    if ev.PaymentID != nil {
        payment = *ev.PaymentID
    }
    line := fmt.Sprintf("[%s] Order paid | order_id=%s | user_id=%d | login=%q | amount=%d %s | method=%s | source=%s | payment_id=%s\n",
        ev.PaidAt, ev.OrderID, ev.UserID, ev.LoginKey, ev.Amount, ev.Currency, ev.Method, ev.Source, payment)
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
