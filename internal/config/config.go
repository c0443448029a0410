// Package config holds the runtime settings of the rental payment server.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
)

const (
	defaultListenAddr      = ":8080"
	defaultDatabaseURL     = "sqlite:///tmp/rental.db"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultPublicBaseURL   = "http://localhost:3000"
	defaultPlatformEmail   = "payments@rental.local"
	defaultCalendarZone    = "America/Argentina/Buenos_Aires"
	defaultProviderTimeout = 15 * time.Second

	successPathTemplate = "/bookings/{booking_id}?payment=success"
	cancelPathTemplate  = "/bookings/{booking_id}?payment=cancelled"
	mercadoPagoHookPath = "/webhooks/mercadopago"
	rateValueDelimiter  = "="
	ratePairDelimiter   = "/"
	listDelimiter       = ","
)

// Config aggregates runtime settings for the payment server.
type Config struct {
	ListenAddr             string
	DatabaseURL            string
	AllowedOrigins         []string
	SessionSigningKey      string
	SessionIssuer          string
	SessionCookieName      string
	PublicBaseURL          string
	StripeSecretKey        string
	StripeAPIBase          string
	MercadoPagoAccessToken string
	MercadoPagoAPIBase     string
	ExchangeRates          rental.RateTable
	PlatformEmail          string
	RedisAddr              string
	ProviderTimeout        time.Duration
	CalendarTimezone       string
}

// Validate fills defaults and rejects configurations the server cannot run with.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.PublicBaseURL = strings.TrimRight(defaultIfEmpty(cfg.PublicBaseURL, defaultPublicBaseURL), "/")
	cfg.PlatformEmail = defaultIfEmpty(cfg.PlatformEmail, defaultPlatformEmail)
	cfg.CalendarTimezone = defaultIfEmpty(cfg.CalendarTimezone, defaultCalendarZone)
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.ExchangeRates == nil {
		cfg.ExchangeRates = rental.RateTable{}
	}

	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if strings.TrimSpace(cfg.StripeSecretKey) == "" && strings.TrimSpace(cfg.MercadoPagoAccessToken) == "" {
		return fmt.Errorf("at least one payment provider credential is required")
	}
	if _, err := time.LoadLocation(cfg.CalendarTimezone); err != nil {
		return fmt.Errorf("calendar timezone %q: %w", cfg.CalendarTimezone, err)
	}
	return nil
}

// Location returns the calendar time zone; Validate must have succeeded.
func (cfg Config) Location() *time.Location {
	location, err := time.LoadLocation(cfg.CalendarTimezone)
	if err != nil {
		return time.UTC
	}
	return location
}

// CheckoutURLs returns the provider return URLs under the public base URL.
func (cfg Config) CheckoutURLs() rental.CheckoutURLs {
	return rental.CheckoutURLs{
		SuccessURL: cfg.PublicBaseURL + successPathTemplate,
		CancelURL:  cfg.PublicBaseURL + cancelPathTemplate,
	}
}

// MercadoPagoNotificationURL is where MercadoPago posts payment notifications.
func (cfg Config) MercadoPagoNotificationURL() string {
	return cfg.PublicBaseURL + mercadoPagoHookPath
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, listDelimiter)
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

// ParseExchangeRates reads "USD/ARS=1050,EUR/ARS=1150" into a rate table.
func ParseExchangeRates(raw string) (rental.RateTable, error) {
	rates := rental.RateTable{}
	for _, entry := range ParseAllowedOrigins(raw) {
		pair, value, found := strings.Cut(entry, rateValueDelimiter)
		if !found {
			return nil, fmt.Errorf("exchange rate %q: expected FROM/TO=RATE", entry)
		}
		from, to, found := strings.Cut(strings.TrimSpace(pair), ratePairDelimiter)
		if !found {
			return nil, fmt.Errorf("exchange rate %q: expected FROM/TO currency pair", entry)
		}
		fromCurrency, err := rental.NormalizeCurrency(from)
		if err != nil {
			return nil, fmt.Errorf("exchange rate %q: %w", entry, err)
		}
		toCurrency, err := rental.NormalizeCurrency(to)
		if err != nil {
			return nil, fmt.Errorf("exchange rate %q: %w", entry, err)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("exchange rate %q: rate must be a positive number", entry)
		}
		rates[fromCurrency+ratePairDelimiter+toCurrency] = rate
	}
	return rates, nil
}
