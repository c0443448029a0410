package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/spf13/cobra"
)

type couponFlags struct {
	Code             string
	DiscountType     string
	DiscountValue    int64
	MaxDiscountCents int64
	MinBookingCents  int64
	UsageLimit       int64
	UsagePerUser     int64
	VehicleTypes     string
	ValidUntil       string
}

func newCouponCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupon",
		Short: "Manage discount coupons",
	}
	cmd.AddCommand(newCouponCreateCommand())
	return cmd
}

func newCouponCreateCommand() *cobra.Command {
	var flags couponFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active coupon",
		RunE: func(cmd *cobra.Command, args []string) error {
			coupon, err := buildCoupon(flags, time.Now().UTC())
			if err != nil {
				return err
			}
			db, cleanup, driver, err := openDatabase(cmd.Context(), databaseURL())
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if driver == driverSQLite {
				if err := prepareSchema(db); err != nil {
					return err
				}
			}
			couponID, err := gormstore.New(db).CreateCoupon(cmd.Context(), coupon)
			if err != nil {
				return err
			}
			cmd.Printf("coupon %s created (%s)\n", coupon.Code, couponID)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Code, "code", "", "coupon code, stored upper-cased")
	cmd.Flags().StringVar(&flags.DiscountType, "type", string(rental.DiscountPercentage), "percentage or fixed")
	cmd.Flags().Int64Var(&flags.DiscountValue, "value", 0, "percent (0-100) or fixed amount in cents")
	cmd.Flags().Int64Var(&flags.MaxDiscountCents, "max-discount-cents", 0, "cap on a percentage discount; 0 means none")
	cmd.Flags().Int64Var(&flags.MinBookingCents, "min-booking-cents", 0, "minimum booking total")
	cmd.Flags().Int64Var(&flags.UsageLimit, "usage-limit", 0, "total redemptions; 0 means unlimited")
	cmd.Flags().Int64Var(&flags.UsagePerUser, "per-user-limit", 0, "redemptions per user; 0 means unlimited")
	cmd.Flags().StringVar(&flags.VehicleTypes, "vehicle-types", "", "comma-separated vehicle types; empty applies to all")
	cmd.Flags().StringVar(&flags.ValidUntil, "valid-until", "", "RFC3339 expiry")
	return cmd
}

func buildCoupon(flags couponFlags, now time.Time) (rental.Coupon, error) {
	code, err := rental.NewCouponCode(flags.Code)
	if err != nil {
		return rental.Coupon{}, err
	}
	coupon := rental.Coupon{
		Code:                   code,
		Active:                 true,
		ValidFrom:              now,
		DiscountType:           rental.DiscountType(strings.ToLower(strings.TrimSpace(flags.DiscountType))),
		DiscountValue:          flags.DiscountValue,
		ApplicableVehicleTypes: splitList(flags.VehicleTypes),
	}
	switch coupon.DiscountType {
	case rental.DiscountPercentage:
		if flags.DiscountValue < 0 || flags.DiscountValue > 100 {
			return rental.Coupon{}, fmt.Errorf("%w: percentage must be within 0-100", rental.ErrValidation)
		}
	case rental.DiscountFixed:
		if flags.DiscountValue < 0 {
			return rental.Coupon{}, fmt.Errorf("%w: fixed discount must not be negative", rental.ErrValidation)
		}
	default:
		return rental.Coupon{}, fmt.Errorf("%w: unknown discount type %q", rental.ErrValidation, flags.DiscountType)
	}
	minimum, err := rental.NewAmountCents(flags.MinBookingCents)
	if err != nil {
		return rental.Coupon{}, err
	}
	coupon.MinBookingAmountCents = minimum
	if flags.MaxDiscountCents > 0 {
		maxDiscount := rental.AmountCents(flags.MaxDiscountCents)
		coupon.MaxDiscountCents = &maxDiscount
	}
	if flags.UsageLimit > 0 {
		limit := flags.UsageLimit
		coupon.UsageLimit = &limit
	}
	if flags.UsagePerUser > 0 {
		perUser := flags.UsagePerUser
		coupon.UsagePerUser = &perUser
	}
	if strings.TrimSpace(flags.ValidUntil) != "" {
		validUntil, err := time.Parse(time.RFC3339, flags.ValidUntil)
		if err != nil {
			return rental.Coupon{}, fmt.Errorf("%w: valid-until: %v", rental.ErrValidation, err)
		}
		if !validUntil.After(now) {
			return rental.Coupon{}, fmt.Errorf("%w: valid-until is in the past", rental.ErrValidation)
		}
		validUntil = validUntil.UTC()
		coupon.ValidUntil = &validUntil
	}
	return coupon, nil
}

func splitList(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
