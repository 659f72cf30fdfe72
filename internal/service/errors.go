package service

import (
	"github.com/dukerupert/vanir/internal/domain"
)

// Validation errors - use domain.EINVALID
var (
	ErrInvalidQuantity        = domain.Errorf(domain.EINVALID, "", "Quantity must be greater than 0")
	ErrInvalidJurisdiction    = domain.Errorf(domain.EINVALID, "", "Unknown tax jurisdiction")
	ErrInvalidProrationPolicy = domain.Errorf(domain.EINVALID, "", "Invalid proration policy")
)

// Order-related errors
var (
	ErrRefundExceedsCharge = domain.Errorf(domain.EINVALID, "", "Refund amount exceeds original charge")
)

// Subscription-related errors
var (
	ErrReactivateWindowExpired = domain.Errorf(domain.ECONFLICT, "", "Reactivation grace window has expired")
)
