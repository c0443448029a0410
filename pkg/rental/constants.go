package rental

const (
	operationCheckout  = "checkout"
	operationReconcile = "reconcile"
	operationRefund    = "refund"
	operationAppend    = "ledger_append"
	operationCoupon    = "coupon_validate"
	operationRedeem    = "coupon_redeem"
	operationList      = "ledger_list"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	outcomeAmountMismatch = "amount_mismatch"

	errorSubjectBooking     = "booking"
	errorSubjectProvider    = "provider"
	errorSubjectLedger      = "ledger"
	errorSubjectCoupon      = "coupon"
	errorCodeLoad           = "load"
	errorCodeSession        = "session"
	errorCodeMetadata       = "metadata"
	errorCodeLookup         = "lookup"
	errorCodeTransition     = "transition"
	errorCodeRefund         = "refund"
	errorCodeAppend         = "append"
	errorCodeInvalid        = "invalid"
	errorCodeRedeem         = "redeem"
	errorCodeUsageCount     = "usage_count"
	errorCodeConvertAmounts = "convert"

	currencyARS      = "ARS"
	rateKeyDelimiter = "/"

	idempotencyKeyDelimiter = ":"
	refundIdempotencyPrefix = "refund"

	percentBase = 100

	// Booking metadata keys written by the engine.
	MetadataCheckoutCreatedAt  = "checkout_created_at"
	MetadataCheckoutAmount     = "checkout_amount_cents"
	MetadataCheckoutCurrency   = "checkout_currency"
	MetadataSessionSuffix      = "_session_id"
	MetadataPaymentError       = "payment_error"
	MetadataPaymentErrorStatus = "payment_error_status"
	MetadataRefundAmountCents  = "refund_amount_cents"
	MetadataRefundPercentage   = "refund_percentage"
	MetadataDaysUntilStart     = "days_until_start"
	MetadataRefundID           = "refund_id"
	MetadataProviderCurrency   = "provider_currency"
	MetadataProviderAmount     = "provider_amount_cents"
	MetadataAmountMismatch     = "payment_amount_mismatch"
	MetadataLatePaymentStatus  = "payment_after_booking_status"

	// Checkout metadata keys carried on the provider session.
	MetadataBookingID = "booking_id"
	MetadataRenterID  = "renter_id"
	MetadataOwnerID   = "owner_id"
	MetadataVehicleID = "vehicle_id"
)
