package service

import (
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/detector"
)

// Outcome is the furthest stage an asset reached in a cycle.
type Outcome string

const (
	OutcomeFetchFailed  Outcome = "fetch_failed"
	OutcomeStoreFailed  Outcome = "store_failed"
	OutcomeDetectFailed Outcome = "detect_failed"
	OutcomeNotifyFailed Outcome = "notify_failed"
	OutcomeStored       Outcome = "stored"
	OutcomeAlerted      Outcome = "alerted"
)

// AssetResult records what happened to one asset.
type AssetResult struct {
	Asset     string
	Price     decimal.Decimal
	Outcome   Outcome
	Detection detector.Status
	Err       error
}

func (r AssetResult) fail(outcome Outcome, err error) AssetResult {
	r.Outcome = outcome
	r.Err = err
	return r
}

// Stored reports whether the sample was persisted. A failed notification still counts.
func (r AssetResult) Stored() bool {
	switch r.Outcome {
	case OutcomeStored, OutcomeAlerted, OutcomeDetectFailed, OutcomeNotifyFailed:
		return true
	}
	return false
}

// CycleReport summarises one ingestion cycle.
type CycleReport struct {
	ID      string
	At      time.Time
	Results []AssetResult
}

func (c CycleReport) count(pred func(AssetResult) bool) int {
	n := 0
	for _, r := range c.Results {
		if pred(r) {
			n++
		}
	}
	return n
}

func (c CycleReport) Stored() int {
	return c.count(AssetResult.Stored)
}

func (c CycleReport) Alerted() int {
	return c.count(func(r AssetResult) bool { return r.Outcome == OutcomeAlerted })
}

func (c CycleReport) Failed() int {
	return c.count(func(r AssetResult) bool { return r.Err != nil })
}

// Result returns the entry for asset.
func (c CycleReport) Result(asset string) (AssetResult, bool) {
	for _, r := range c.Results {
		if r.Asset == asset {
			return r, true
		}
	}
	return AssetResult{}, false
}
