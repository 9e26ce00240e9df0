package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/credential"
	"github.com/psds-microservice/helpdesk-service/internal/handler"
	"github.com/psds-microservice/helpdesk-service/internal/kafka"
	"github.com/psds-microservice/helpdesk-service/internal/notify"
	"github.com/psds-microservice/helpdesk-service/internal/router"
	"github.com/psds-microservice/helpdesk-service/internal/service"
)

// API приложение: HTTP сервер (режим api).
type API struct {
	cfg        *config.Config
	log        *slog.Logger
	httpSrv    *http.Server
	tickets    *service.TicketService
	dispatcher *notify.Dispatcher
	producer   *kafka.Producer
	closeStore func() error
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config, log *slog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := OpenStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var mailer notify.Mailer = notify.Discard{}
	if cfg.MailEnabled() {
		m, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			FromName: cfg.SMTP.FromName,
		})
		if err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("mailer: %w", err)
		}
		mailer = m
	} else {
		log.Warn("SUPPORT_SYSTEM_SMTP_HOST not set: notification emails are discarded")
	}
	dispatcher := notify.NewDispatcher(mailer, notify.DispatcherConfig{
		LinkBase: cfg.TicketLinkBase,
		Inbox:    cfg.SupportInbox,
	}, log)

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)

	locks := service.NewLockService(store, log)
	tickets := service.NewTicketService(service.Deps{
		Store:    store,
		Locks:    locks,
		Issuer:   credential.NewIssuer(),
		Notifier: dispatcher,
		Producer: producer,
		Log:      log,
	})

	secrets := handler.Secrets{Admin: cfg.AdminSecretKey, Staff: cfg.StaffSecretKey}
	if cfg.StaffTokenSecret != "" {
		tokens, err := auth.NewTokens(cfg.StaffTokenSecret, cfg.StaffTokenTTL, cfg.RevokedStaffIDs)
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		secrets.Tokens = tokens
	}
	engine := router.New(router.Handlers{
		Health: handler.NewHealthHandler(func(ctx context.Context) error {
			_, err := store.GetLockStatus(ctx)
			return err
		}, log),
		Ticket: handler.NewTicketHandler(tickets, secrets, log),
		Lock:   handler.NewLockHandler(locks, secrets, log),
	}, router.Options{AllowedOrigins: cfg.CORSAllowedOrigins, Secrets: secrets, Log: log})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:        cfg,
		log:        log,
		httpSrv:    httpSrv,
		tickets:    tickets,
		dispatcher: dispatcher,
		producer:   producer,
		closeStore: closeStore,
	}, nil
}

// Run запускает HTTP сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		"addr", a.httpSrv.Addr,
		"store", a.cfg.StoreBackend,
		"kafka", a.producer.Enabled(),
		"swagger", base+"/swagger",
		"health", base+"/health",
		"tickets", base+"/tickets/",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	// письма и события, ушедшие в фон, должны успеть уйти
	a.dispatcher.Wait()
	a.tickets.Wait()
	if err := a.producer.Close(); err != nil {
		a.log.Error("kafka close", "error", err)
	}
	if err := a.closeStore(); err != nil {
		a.log.Error("store close", "error", err)
	}
	a.log.Info("HTTP server stopped")
	return runErr
}
