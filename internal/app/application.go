package app

import (
	"context"
	"fmt"

	injectionsvc "github.com/dosetrack/dosetrack/internal/app/services/injections"
	"github.com/dosetrack/dosetrack/internal/app/services/reminders"
	statssvc "github.com/dosetrack/dosetrack/internal/app/services/stats"
	userssvc "github.com/dosetrack/dosetrack/internal/app/services/users"
	"github.com/dosetrack/dosetrack/internal/app/storage"
	"github.com/dosetrack/dosetrack/internal/app/storage/memory"
	"github.com/dosetrack/dosetrack/internal/app/system"
	"github.com/dosetrack/dosetrack/internal/notify"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users      storage.UserStore
	Injections storage.InjectionStore
}

// Config carries application-level options.
type Config struct {
	// ReminderSchedule is the cron spec for the missed-dose scan. Empty uses
	// the default cadence; "off" disables the scan entirely.
	ReminderSchedule string
	// ReminderWebhookURL, when set, receives a JSON POST per missed slot.
	ReminderWebhookURL string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users      *userssvc.Service
	Injections *injectionsvc.Service
	Stats      *statssvc.Service
	Reminders  *reminders.Scheduler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Injections == nil {
		stores.Injections = mem
	}

	manager := system.NewManager()

	userService := userssvc.New(stores.Users, stores.Injections, log)
	injectionService := injectionsvc.New(stores.Users, stores.Injections, log)
	statsService := statssvc.New(stores.Users, stores.Injections, log)

	for _, name := range []string{"users", "injections", "stats"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	var reminderService *reminders.Scheduler
	if cfg.ReminderSchedule != "off" {
		var err error
		reminderService, err = reminders.NewScheduler(stores.Users, stores.Injections, cfg.ReminderSchedule, log)
		if err != nil {
			return nil, err
		}
		if cfg.ReminderWebhookURL != "" {
			reminderService.SetNotifier(notify.NewWebhook(notify.WebhookConfig{URL: cfg.ReminderWebhookURL}))
		}
		if err := manager.Register(reminderService); err != nil {
			return nil, fmt.Errorf("register %s: %w", reminderService.Name(), err)
		}
	} else {
		log.Warn("reminder schedule set to off; missed-dose scan disabled")
	}

	return &Application{
		manager:    manager,
		log:        log,
		Users:      userService,
		Injections: injectionService,
		Stats:      statsService,
		Reminders:  reminderService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
