package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/helpdesk-service/internal/application"
	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/logger"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/spf13/cobra"
)

var republishCmd = &cobra.Command{
	Use:   "republish",
	Short: "Publish a ticket.snapshot event for every stored ticket (rebuilds downstream consumers)",
	RunE:  runRepublish,
}

func runRepublish(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.AppEnv)
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopicTicket == "" {
		return errors.New("republish: KAFKA_BROKERS and KAFKA_TOPIC_TICKET are required")
	}

	store, closeStore, err := application.OpenStore(cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	total := 0
	for _, status := range []model.TicketStatus{model.TicketStatusOpen, model.TicketStatusClosed} {
		tickets, err := store.ListTickets(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s tickets: %w", status, err)
		}
		for i := range tickets {
			producer.ProduceTicketEvent(ctx, kafka.EventTicketSnapshot, tickets[i].StaffView())
			total++
			if total%50 == 0 {
				log.Info("republish: progress", "sent", total)
			}
		}
	}
	log.Info("republish: done", "sent", total, "topic", cfg.KafkaTopicTicket)
	return nil
}
