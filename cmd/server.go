package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jaswdr/faker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/push"
	"github.com/chrisdamba/foodcart/internal/stubserver"
)

const shutdownTimeout = 5 * time.Second

var stubServerCmd = &cobra.Command{
	Use:   "stub-server",
	Short: "Run a local order, coupon and payment backend with a simulated kitchen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		publisher, closePublisher, err := stubPublisher()
		if err != nil {
			return err
		}
		defer closePublisher()

		ln, err := net.Listen("tcp", app.cfg.StubAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", app.cfg.StubAddr, err)
		}
		srv := newStubServer(publisher)
		app.logger.Info("stub server listening", zap.String("addr", ln.Addr().String()), zap.Duration("step_interval", app.cfg.StubStepInterval))
		return serveStub(ctx, ln, srv, nil)
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Fill a cart, place an order and track it against an in-process backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		method, _ := cmd.Flags().GetString("method")
		coupon, _ := cmd.Flags().GetString("coupon")
		step, _ := cmd.Flags().GetDuration("step")

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to start demo backend: %w", err)
		}

		// Everything below talks to the in-process backend.
		app.hub = push.NewHub(app.logger)
		app.cfg.PushTransport = "memory"
		app.cfg.APIBaseURL = "http://" + ln.Addr().String()
		app.cfg.APIToken = ""
		app.cfg.StubStepInterval = step

		srv := newStubServer(app.hub)
		return serveStub(cmd.Context(), ln, srv, func(ctx context.Context) error {
			return runDemo(ctx, cmd, method, coupon)
		})
	},
}

func newStubServer(publisher push.Publisher) *stubserver.Server {
	return stubserver.New(stubserver.Options{
		DeclinedMethods: app.cfg.StubDeclinedMethods,
		StepInterval:    app.cfg.StubStepInterval,
	}, publisher, app.logger)
}

// stubPublisher picks where the stub server publishes status events. Both
// Kafka transports read the same topics, so sarama serves either.
func stubPublisher() (push.Publisher, func(), error) {
	switch app.cfg.PushTransport {
	case "sarama", "confluent":
		p, err := push.NewSaramaPublisher(app.kafkaOptions())
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				app.logger.Warn("failed to close publisher", zap.Error(err))
			}
		}, nil
	}
	app.logger.Warn("memory push transport only reaches clients in this process")
	return push.NewHub(app.logger), func() {}, nil
}

// serveStub runs the HTTP server and the kitchen until ctx is cancelled or
// fn, when given, returns.
func serveStub(ctx context.Context, ln net.Listener, srv *stubserver.Server, fn func(context.Context) error) error {
	httpSrv := &http.Server{Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("stub server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.RunKitchen(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if fn != nil {
		g.Go(func() error {
			defer cancel()
			return fn(gctx)
		})
	}
	return g.Wait()
}

func runDemo(ctx context.Context, cmd *cobra.Command, method, coupon string) error {
	out := cmd.OutOrStdout()
	svc, err := app.Cart(ctx)
	if err != nil {
		return err
	}
	for _, l := range svc.Snapshot().Lines {
		if err := svc.RemoveItem(ctx, l.ItemID); err != nil {
			return err
		}
	}

	catalog := app.Catalog()
	if len(catalog.Restaurants) == 0 {
		return errors.New("demo catalog has no restaurants")
	}
	items := catalog.ItemsOf(catalog.Restaurants[0].ID)
	for i, item := range items {
		if i == 3 {
			break
		}
		if err := svc.AddItem(ctx, models.LineFromMenuItem(item, 1+i%2)); err != nil {
			return app.userFacing(err)
		}
	}

	fake := faker.New()
	addr := models.Address{
		HouseNo:  fake.Address().BuildingNumber(),
		Address1: fake.Address().StreetAddress(),
		City:     fake.Address().City(),
		Postcode: fake.Address().PostCode(),
	}
	if err := svc.SetDeliveryAddress(ctx, addr); err != nil {
		return app.userFacing(err)
	}

	if coupon != "" {
		if _, err := svc.ApplyCoupon(ctx, coupon); err != nil {
			fmt.Fprintf(out, "Coupon %s not applied: %s\n", coupon, app.userFacing(err))
		}
	}
	printCart(out, svc.Snapshot(), svc.Quote())
	fmt.Fprintln(out)

	snapshot, err := svc.PlaceOrder(ctx, method)
	if err != nil {
		return app.userFacing(err)
	}
	printReceipt(out, snapshot)

	view, err := trackOrder(ctx, cmd.ErrOrStderr(), snapshot.OrderID)
	if err != nil {
		return err
	}
	if view.Terminal {
		if _, err := svc.Reconcile(ctx); err != nil {
			app.logger.Warn("failed to reconcile demo order", zap.Error(err))
		}
	}
	return nil
}

func init() {
	f := demoCmd.Flags()
	f.String("method", models.PaymentMethodUPI, "Payment method for the demo order")
	f.String("coupon", "WELCOME50", "Coupon to apply, empty for none")
	f.Duration("step", 2*time.Second, "Delay between kitchen steps")
}
