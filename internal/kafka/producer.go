package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/segmentio/kafka-go"
)

const (
	EventTicketCreated  = "ticket.created"
	EventTicketReplied  = "ticket.replied"
	EventTicketNoted    = "ticket.noted"
	EventTicketAssigned = "ticket.assigned"
	EventTicketClosed   = "ticket.closed"
	EventTicketReopened = "ticket.reopened"
	EventTicketSnapshot = "ticket.snapshot"
)

// TicketEventProducer — интерфейс для отправки событий тикета в Kafka (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, t *model.Ticket)
}

// TicketEvent — тело сообщения. Учётные данные и заметки не публикуются.
type TicketEvent struct {
	Event        string    `json:"event"`
	TicketID     string    `json:"ticket_id"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	AssignedTo   *string   `json:"assigned_to"`
	Subject      string    `json:"subject"`
	CreatorEmail string    `json:"creator_email"`
	Messages     int       `json:"messages"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewTicketEvent(event string, t *model.Ticket) TicketEvent {
	return TicketEvent{
		Event:        event,
		TicketID:     t.ID,
		Status:       string(t.Status),
		Priority:     string(t.Priority),
		AssignedTo:   t.AssignedTo,
		Subject:      t.Subject,
		CreatorEmail: t.CreatorEmail,
		Messages:     len(t.Messages),
		UpdatedAt:    t.UpdatedAt,
	}
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *slog.Logger
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Enabled сообщает, уходят ли события из процесса на самом деле.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceTicketEvent отправляет событие тикета в топик. Ключ сообщения — id тикета,
// чтобы события одного тикета попадали в одну партицию.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, t *model.Ticket) {
	if p.writer == nil || t == nil {
		return
	}
	body, err := json.Marshal(NewTicketEvent(event, t))
	if err != nil {
		p.log.Error("kafka: marshal ticket event", "event", event, "error", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.ID), Value: body}); err != nil {
		p.log.Error("kafka: write ticket event", "event", event, "ticket_id", t.ID, "error", err)
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
