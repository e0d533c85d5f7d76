// Package pricing holds the value types and error kinds shared by the tracker components.
package pricing

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrFeedUnavailable reports a transport or provider failure while fetching a spot price.
	ErrFeedUnavailable = errors.New("price feed unavailable")
	// ErrInvalidResponse reports a malformed provider payload or a missing/non-positive price.
	ErrInvalidResponse = errors.New("invalid price feed response")
	// ErrStoreUnavailable reports a persistence failure.
	ErrStoreUnavailable = errors.New("price store unavailable")
	// ErrNotificationFailure reports a failed notification delivery.
	ErrNotificationFailure = errors.New("notification delivery failed")
	// ErrInsufficientHistory signals that no usable reference sample exists. It is not a failure.
	ErrInsufficientHistory = errors.New("insufficient price history")
	// ErrNotFound is returned by point lookups that match nothing.
	ErrNotFound = errors.New("price sample not found")
	// ErrInvalidAmount rejects negative conversion amounts.
	ErrInvalidAmount = errors.New("amount must not be negative")
	// ErrUnknownAsset rejects assets a feed has no mapping for.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrInvalidArgument rejects malformed caller input such as an empty asset or a bad email.
	ErrInvalidArgument = errors.New("invalid argument")
)

// PriceSample is one stored observation of an asset's spot price.
type PriceSample struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// AlertEvent describes a detected upward move. It is never persisted.
type AlertEvent struct {
	Asset           string
	TriggeringPrice decimal.Decimal
	ReferencePrice  decimal.Decimal
	PercentChange   decimal.Decimal
	ThresholdPct    decimal.Decimal
	ObservedAt      time.Time
	ReferenceAt     time.Time
	Recipient       string
}

// ConversionQuote is the result of a cross-asset rate conversion.
type ConversionQuote struct {
	SourceAmount        decimal.Decimal `json:"sourceAmount"`
	SourceAsset         string          `json:"sourceAsset"`
	TargetAsset         string          `json:"targetAsset"`
	SourceSpot          decimal.Decimal `json:"sourceSpot"`
	TargetSpot          decimal.Decimal `json:"targetSpot"`
	TargetAmount        decimal.Decimal `json:"targetAmount"`
	FeeInSource         decimal.Decimal `json:"feeInSource"`
	FeeInTargetCurrency decimal.Decimal `json:"feeInTargetCurrency"`
}

// NormalizeAsset trims and lower-cases an asset identifier.
func NormalizeAsset(asset string) string {
	return strings.ToLower(strings.TrimSpace(asset))
}
