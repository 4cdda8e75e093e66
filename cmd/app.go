package cmd

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisdamba/foodcart/internal/api"
	"github.com/chrisdamba/foodcart/internal/cart"
	"github.com/chrisdamba/foodcart/internal/factories"
	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/output"
	"github.com/chrisdamba/foodcart/internal/push"
	"github.com/chrisdamba/foodcart/internal/repositories"
	"github.com/chrisdamba/foodcart/internal/tracker"
)

// App is the composition root. Components are built on first use so a
// command only opens the connections it needs, and all of them are closed
// once by Close.
type App struct {
	cfg    *models.Config
	logger *zap.Logger
	out    io.Writer

	// hub backs the memory push transport. demo shares it with the
	// in-process stub server.
	hub *push.Hub

	catalog  *factories.Catalog
	client   *api.Client
	recorder *output.Recorder
	archive  bool
	store    repositories.CartRepository
	cart     *cart.Service
	manager  *push.Manager

	pushCancel context.CancelFunc
	pushGroup  *errgroup.Group
	closeOnce  sync.Once
}

func NewApp(cfg *models.Config, logger *zap.Logger, out io.Writer) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger, out: out}
}

func (a *App) Catalog() *factories.Catalog {
	if a.catalog == nil {
		a.catalog = factories.NewCatalog(a.cfg.MenuSeed, a.cfg.MenuRestaurants, a.cfg.MenuItems)
	}
	return a.catalog
}

func (a *App) Client() (*api.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := api.NewClient(api.Options{
		BaseURL:        a.cfg.APIBaseURL,
		Token:          a.cfg.APIToken,
		RequestTimeout: a.cfg.RequestTimeout,
		RetryMax:       a.cfg.RetryMax,
		RetryBackoff:   a.cfg.RetryBackoff,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

// Recorder returns nil when archiving is off.
func (a *App) Recorder() (*output.Recorder, error) {
	if a.archive {
		return a.recorder, nil
	}
	dest, err := output.Open(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.archive = true
	if dest != nil {
		a.recorder = output.NewRecorder(dest, a.logger)
	}
	return a.recorder, nil
}

// Cart opens the profile's cart with its stored state.
func (a *App) Cart(ctx context.Context) (*cart.Service, error) {
	if a.cart != nil {
		return a.cart, nil
	}
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	recorder, err := a.Recorder()
	if err != nil {
		return nil, err
	}
	if a.store == nil {
		store, err := repositories.Open(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	customerID := a.cfg.CustomerID
	if customerID == "" {
		customerID = client.CustomerID()
	}
	opts := []cart.Option{
		cart.WithPricing(cart.PricingFromConfig(a.cfg)),
		cart.WithCustomerID(customerID),
	}
	if recorder != nil {
		opts = append(opts, cart.WithRecorder(recorder))
	}
	svc := cart.NewService(a.cfg.Profile, cart.Dependencies{
		Store:    a.store,
		Coupons:  client,
		Orders:   client,
		Payments: client,
		Fetcher:  client,
	}, a.logger, opts...)
	if err := svc.Open(ctx); err != nil {
		return nil, err
	}
	a.cart = svc
	return svc, nil
}

func (a *App) kafkaOptions() push.KafkaOptions {
	return push.KafkaOptions{
		Brokers:          a.cfg.KafkaBrokerList,
		ClientID:         "foodcart-" + a.cfg.Profile,
		JoinTopic:        a.cfg.PushJoinTopic,
		StatusTopic:      a.cfg.PushStatusTopic,
		SecurityProtocol: a.cfg.KafkaSecurityProtocol,
		SaslMechanism:    a.cfg.KafkaSaslMechanism,
		SaslUsername:     a.cfg.KafkaSaslUsername,
		SaslPassword:     a.cfg.KafkaSaslPassword,
		SessionTimeoutMs: a.cfg.SessionTimeoutMs,
	}
}

func (a *App) transport() push.Transport {
	switch a.cfg.PushTransport {
	case "sarama":
		return push.NewSaramaTransport(a.kafkaOptions(), a.logger)
	case "confluent":
		return push.NewConfluentTransport(a.kafkaOptions(), a.logger)
	}
	if a.hub == nil {
		a.logger.Warn("memory push transport has no server in this process, live updates will not arrive")
		a.hub = push.NewHub(a.logger)
	}
	return a.hub.Client(a.cfg.Profile)
}

// Push starts the process-wide push manager on first use.
func (a *App) Push(ctx context.Context) *push.Manager {
	if a.manager != nil {
		return a.manager
	}
	manager := push.NewManager(a.transport(), push.ManagerOptions{}, a.logger)
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return manager.Run(gctx) })

	a.manager = manager
	a.pushCancel = cancel
	a.pushGroup = g
	return manager
}

// Tracker builds a tracker for orderID on the shared push manager.
func (a *App) Tracker(ctx context.Context, orderID string, onChange func(tracker.View)) (*tracker.Tracker, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	recorder, err := a.Recorder()
	if err != nil {
		return nil, err
	}
	opts := tracker.Options{
		RefreshInterval:    a.cfg.TrackerRefreshInterval,
		DefaultPrepMinutes: a.cfg.DefaultPrepMinutes,
		AllowanceMinutes:   a.cfg.DeliveryAllowanceMinutes,
		OnChange:           onChange,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	return tracker.New(orderID, client, a.Push(ctx), opts, a.logger), nil
}

// userFacing logs err and replaces it with the text shown to the customer.
func (a *App) userFacing(err error) error {
	if err == nil {
		return nil
	}
	a.logger.Debug("operation failed", zap.Error(err))
	return errors.New(cart.UserMessage(err))
}

func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.manager != nil {
			a.pushCancel()
			if err := a.pushGroup.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
			if err := a.manager.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.recorder != nil {
			if err := a.recorder.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		_ = a.logger.Sync()
	})
	return errors.Join(errs...)
}
