package queue

import (
    "context"
    "encoding/json"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/rs/zerolog"
)

// Publisher publishes domain events to RabbitMQ.  It dials per publish:
// paid orders are rare and a short-lived connection needs no reconnect
// handling.  Errors are logged and returned so callers can ignore them
// without interrupting the request flow.
type Publisher struct {
    url   string
    queue string
    log   zerolog.Logger
}

// NewPublisher returns a Publisher for the given broker URL and queue.
func NewPublisher(url, queue string, log zerolog.Logger) *Publisher {
    return &Publisher{url: url, queue: queue, log: log.With().Str("component", "publisher").Logger()}
}

// PublishOrderPaid publishes ev to the configured queue as a persistent
// message.
func (p *Publisher) PublishOrderPaid(ctx context.Context, ev OrderPaidEvent) error {
    conn, err := amqp.Dial(p.url)
    if err != nil {
        p.log.Warn().Err(err).Msg("rabbitmq dial failed")
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        p.log.Warn().Err(err).Msg("rabbitmq channel open failed")
        return err
    }
    defer func() { _ = ch.Close() }()

    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(
        p.queue, // name
        true,    // durable
        false,   // autoDelete
        false,   // exclusive
        false,   // noWait
        nil,     // args
    ); err != nil {
        p.log.Warn().Err(err).Msg("rabbitmq queue declare failed")
        return err
    }

    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        Type:         "order.paid",
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
        p.log.Warn().Err(err).Str("order_id", ev.OrderID).Msg("rabbitmq publish failed")
        return err
    }
    p.log.Debug().Str("order_id", ev.OrderID).Msg("order.paid published")
    return nil
}
