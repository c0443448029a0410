package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/config"
	"github.com/MarkoPoloResearchLab/rental/internal/httpapi"
	"github.com/MarkoPoloResearchLab/rental/internal/notify"
	"github.com/MarkoPoloResearchLab/rental/internal/oplog"
	"github.com/MarkoPoloResearchLab/rental/internal/providers/mercadopago"
	"github.com/MarkoPoloResearchLab/rental/internal/providers/stripe"
	"github.com/MarkoPoloResearchLab/rental/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix = "RENTAL"

	flagListenAddr         = "listen-addr"
	flagDatabaseURL        = "database-url"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTCookieName      = "jwt-cookie-name"
	flagPublicBaseURL      = "public-base-url"
	flagStripeSecretKey    = "stripe-secret-key"
	flagStripeAPIBase      = "stripe-api-base"
	flagMercadoPagoToken   = "mercadopago-access-token"
	flagMercadoPagoAPI     = "mercadopago-api-base"
	flagExchangeRates      = "exchange-rates"
	flagPlatformEmail      = "platform-email"
	flagRedisAddr          = "redis-addr"
	flagProviderTimeout    = "provider-timeout"
	flagCalendarTimezone   = "calendar-timezone"
	defaultProviderTimeout = 15 * time.Second
)

var configFlags = []string{
	flagListenAddr, flagDatabaseURL, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer,
	flagJWTCookieName, flagPublicBaseURL, flagStripeSecretKey, flagStripeAPIBase,
	flagMercadoPagoToken, flagMercadoPagoAPI, flagExchangeRates, flagPlatformEmail,
	flagRedisAddr, flagProviderTimeout, flagCalendarTimezone,
}

func main() {
	_ = godotenv.Load()
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rentald: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rentald",
		Short:         "Booking payment and refund server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindConfig(cmd.Root())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagListenAddr, "", "HTTP listen address")
	flags.String(flagDatabaseURL, "", "PostgreSQL URL or sqlite path")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "session JWT signing key")
	flags.String(flagJWTIssuer, "", "session JWT issuer")
	flags.String(flagJWTCookieName, "", "session cookie name")
	flags.String(flagPublicBaseURL, "", "public URL used for checkout return and notification URLs")
	flags.String(flagStripeSecretKey, "", "Stripe secret key")
	flags.String(flagStripeAPIBase, "", "Stripe API base URL")
	flags.String(flagMercadoPagoToken, "", "MercadoPago access token")
	flags.String(flagMercadoPagoAPI, "", "MercadoPago API base URL")
	flags.String(flagExchangeRates, "", "exchange rates, e.g. USD/ARS=1050,EUR/ARS=1150")
	flags.String(flagPlatformEmail, "", "actor email recorded on commission rows")
	flags.String(flagRedisAddr, "", "Redis address for the notification stream; empty keeps it in process")
	flags.Duration(flagProviderTimeout, defaultProviderTimeout, "payment provider request timeout")
	flags.String(flagCalendarTimezone, "", "time zone whose calendar dates drive refund tiers")

	cmd.AddCommand(newMigrateCommand(), newCouponCommand())
	return cmd
}

// bindConfig lets RENTAL_* environment variables stand in for any flag.
func bindConfig(root *cobra.Command) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range configFlags {
		if err := viper.BindPFlag(name, root.PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	rates, err := config.ParseExchangeRates(viper.GetString(flagExchangeRates))
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{
		ListenAddr:             viper.GetString(flagListenAddr),
		DatabaseURL:            viper.GetString(flagDatabaseURL),
		AllowedOrigins:         config.ParseAllowedOrigins(viper.GetString(flagAllowedOrigins)),
		SessionSigningKey:      viper.GetString(flagJWTSigningKey),
		SessionIssuer:          viper.GetString(flagJWTIssuer),
		SessionCookieName:      viper.GetString(flagJWTCookieName),
		PublicBaseURL:          viper.GetString(flagPublicBaseURL),
		StripeSecretKey:        viper.GetString(flagStripeSecretKey),
		StripeAPIBase:          viper.GetString(flagStripeAPIBase),
		MercadoPagoAccessToken: viper.GetString(flagMercadoPagoToken),
		MercadoPagoAPIBase:     viper.GetString(flagMercadoPagoAPI),
		ExchangeRates:          rates,
		PlatformEmail:          viper.GetString(flagPlatformEmail),
		RedisAddr:              viper.GetString(flagRedisAddr),
		ProviderTimeout:        viper.GetDuration(flagProviderTimeout),
		CalendarTimezone:       viper.GetString(flagCalendarTimezone),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if driver == driverSQLite {
		if err := prepareSchema(gormDB); err != nil {
			return err
		}
	}
	store := gormstore.New(gormDB)

	providers, err := buildProviders(*cfg)
	if err != nil {
		return err
	}

	messageLogger := notify.NewZapLogger(logger)
	transport, err := buildTransport(ctx, cfg.RedisAddr, messageLogger)
	if err != nil {
		return err
	}
	defer func() { _ = transport.Close() }()
	publisher, err := notify.NewPublisher(transport, messageLogger)
	if err != nil {
		return err
	}
	messageRouter, err := notify.NewRouter(notify.RouterConfig{
		Transport: transport,
		Deliverer: notify.LogDeliverer{Logger: logger},
		Logger:    messageLogger,
	})
	if err != nil {
		return err
	}

	options := []rental.Option{
		rental.WithOperationLogger(oplog.New(logger)),
		rental.WithNotifier(publisher),
		rental.WithLocation(cfg.Location()),
	}
	ledger, err := rental.NewLedgerWriter(store, options...)
	if err != nil {
		return err
	}
	checkout, err := rental.NewCheckoutOrchestrator(store, providers, cfg.ExchangeRates, cfg.CheckoutURLs(), options...)
	if err != nil {
		return err
	}
	refunds, err := rental.NewRefundPolicyEngine(store, providers, cfg.ExchangeRates, ledger, options...)
	if err != nil {
		return err
	}
	coupons, err := rental.NewCouponValidator(store, options...)
	if err != nil {
		return err
	}
	webhooks, err := rental.NewWebhookReconciler(store, providers, ledger, cfg.PlatformEmail, options...)
	if err != nil {
		return err
	}

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: 2 * cfg.ProviderTimeout,
	}, httpapi.Services{
		Checkout: checkout,
		Refunds:  refunds,
		Coupons:  coupons,
		Ledger:   ledger,
		Webhooks: webhooks,
	}, sessionValidator, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := messageRouter.Run(groupCtx); err != nil {
			return fmt.Errorf("running message router: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-messageRouter.Running():
		case <-groupCtx.Done():
			return nil
		}
		return httpapi.Serve(groupCtx, cfg.ListenAddr, router, logger)
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func buildProviders(cfg config.Config) (rental.Providers, error) {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	var gateways []rental.PaymentProvider
	if cfg.StripeSecretKey != "" {
		client, err := stripe.New(stripe.Config{
			SecretKey: cfg.StripeSecretKey,
			APIBase:   cfg.StripeAPIBase,
			Timeout:   cfg.ProviderTimeout,
		}, httpClient)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		gateways = append(gateways, client)
	}
	if cfg.MercadoPagoAccessToken != "" {
		client, err := mercadopago.New(mercadopago.Config{
			AccessToken:     cfg.MercadoPagoAccessToken,
			APIBase:         cfg.MercadoPagoAPIBase,
			NotificationURL: cfg.MercadoPagoNotificationURL(),
			Timeout:         cfg.ProviderTimeout,
		}, httpClient)
		if err != nil {
			return nil, fmt.Errorf("mercadopago client: %w", err)
		}
		gateways = append(gateways, client)
	}
	return rental.NewProviders(gateways...), nil
}

func buildTransport(ctx context.Context, redisAddr string, logger *notify.ZapLogger) (notify.Transport, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return notify.NewInProcessTransport(logger), nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return notify.Transport{}, fmt.Errorf("redis ping: %w", err)
	}
	transport, err := notify.NewRedisTransport(client, logger)
	if err != nil {
		_ = client.Close()
		return notify.Transport{}, err
	}
	return transport, nil
}
