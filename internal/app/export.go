package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-tracker/internal/detector"
	"price-tracker/internal/pricing"
)

// Export renders one asset's history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	asset := pricing.NormalizeAsset(opts.Asset)
	if asset == "" {
		asset = a.Config.Assets[0]
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListBetween(ctx, asset, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("asset", asset).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Str("asset", asset).Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, asset, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []pricing.PriceSample, max int) []pricing.PriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]pricing.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

// changeSeries returns each sample's change against the first sample, in percent.
func changeSeries(samples []pricing.PriceSample) []decimal.Decimal {
	out := make([]decimal.Decimal, len(samples))
	if len(samples) == 0 || !samples[0].Price.IsPositive() {
		return out
	}
	base := samples[0].Price
	for i, sample := range samples {
		out[i] = detector.PercentChange(base, sample.Price)
	}
	return out
}

func writeSamplesCSV(path string, samples []pricing.PriceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "asset", "price_usd", "change_from_start_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	changes := changeSeries(samples)
	for i, sample := range samples {
		record := []string{
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.Asset,
			sample.Price.String(),
			formatDecimal(changes[i], 4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path, asset string, samples []pricing.PriceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	prices := make([]float64, len(samples))
	changes := make([]float64, len(samples))

	for i, change := range changeSeries(samples) {
		x[i] = samples[i].Timestamp
		prices[i] = samples[i].Price.InexactFloat64()
		changes[i] = change.InexactFloat64()
	}

	name := strings.ToUpper(asset)
	graph := chart.Chart{
		Title:  name + " / USD",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Change (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    name,
				XValues: x,
				YValues: prices,
			},
			chart.TimeSeries{
				Name:    "Change %",
				XValues: x,
				YValues: changes,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
