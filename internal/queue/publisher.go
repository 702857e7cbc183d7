package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/model"
)

const holdQueueName = "seat.holds"

// Publisher emits hold lifecycle events to the seat.holds queue. Each
// publish dials its own short-lived connection, so a broker outage can
// never wedge a pooled channel; failures are logged and dropped because
// the hold transition itself already committed and must not be undone
// by a messaging problem. Messages are marked persistent.
type Publisher struct {
	log *slog.Logger
	url string
	clk clock.Clock
}

// NewPublisher builds a publisher for the broker at url.
func NewPublisher(log *slog.Logger, url string, clk clock.Clock) *Publisher {
	return &Publisher{log: log, url: url, clk: clk}
}

// HoldCreated publishes a hold.created event.
func (p *Publisher) HoldCreated(h *model.Hold) {
	p.publish(NewHoldEvent(TypeHoldCreated, h, "", p.clk.Now()))
}

// HoldConfirmed publishes a hold.confirmed event. Ticket issuance
// listens for these.
func (p *Publisher) HoldConfirmed(h *model.Hold) {
	p.publish(NewHoldEvent(TypeHoldConfirmed, h, "", p.clk.Now()))
}

// HoldReleased publishes a hold.released event with the release reason.
func (p *Publisher) HoldReleased(h *model.Hold, reason model.ReleaseReason) {
	p.publish(NewHoldEvent(TypeHoldReleased, h, reason, p.clk.Now()))
}

// HoldExtended publishes a hold.extended event. Only the owner's own
// checkout UI cares; the shared seat map is not affected.
func (p *Publisher) HoldExtended(h *model.Hold) {
	p.publish(NewHoldEvent(TypeHoldExtended, h, "", p.clk.Now()))
}

func (p *Publisher) publish(ev HoldEvent) {
	const op = "queue.Publisher.publish"
	log := p.log.With(slog.String("op", op),
		slog.String("type", ev.Type), slog.String("hold_id", ev.HoldID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.send(ctx, ev); err != nil {
		log.Error("publishing hold event failed", sl.Err(err))
	}
}

func (p *Publisher) send(ctx context.Context, ev HoldEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	// durable so events survive broker restarts; declare is idempotent
	if _, err := ch.QueueDeclare(holdQueueName, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx,
		"",            // default exchange
		holdQueueName, // routing key = queue name
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.clk.Now(),
			Body:         body,
		},
	)
}
