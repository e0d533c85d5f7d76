package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"price-tracker/internal/detector"
	"price-tracker/internal/pricing"
)

// Show prints recent samples per asset, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	assets := a.Config.Assets
	if opts.Asset != "" {
		assets = []string{pricing.NormalizeAsset(opts.Asset)}
	}

	rows := make([]pricing.PriceSample, 0)
	for _, asset := range assets {
		samples, err := store.ListRecent(ctx, asset, opts.Limit)
		if err != nil {
			return err
		}
		rows = append(rows, samples...)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	return renderSamples(os.Stdout, rows)
}

// renderSamples expects each asset's rows newest first; the change column compares with the next older row.
func renderSamples(w io.Writer, samples []pricing.PriceSample) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAsset\tPrice (USD)\tChange%")

	for i, sample := range samples {
		change := "-"
		if i+1 < len(samples) {
			prev := samples[i+1]
			if prev.Asset == sample.Asset && prev.Price.IsPositive() {
				change = formatDecimal(detector.PercentChange(prev.Price, sample.Price), 3)
			}
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.Asset,
			formatDecimal(sample.Price, 4),
			change,
		)
	}

	return writer.Flush()
}
