package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-gap-monitor/internal/storage"
)

// historyPoint condenses one capture round of a pair: the own price and the
// cheapest competitor price seen at that instant.
type historyPoint struct {
	At            time.Time
	Own           *decimal.Decimal
	MinCompetitor *decimal.Decimal
}

// GapPct returns (own - min) / min, or nil while either side is missing or
// the minimum is zero.
func (p historyPoint) GapPct() *decimal.Decimal {
	if p.Own == nil || p.MinCompetitor == nil || p.MinCompetitor.IsZero() {
		return nil
	}
	gap := p.Own.Sub(*p.MinCompetitor).Div(*p.MinCompetitor)
	return &gap
}

// Export renders one pair's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ProductGroupKey == "" || opts.Channel == "" {
		return errors.New("both --group and --channel must be provided")
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

	observations, err := store.ListObservationsBetween(ctx, opts.ProductGroupKey, opts.Channel, from, to)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		a.Logger.Info().Msg("no observations found for export window")
		return nil
	}

	points := downsamplePoints(buildHistory(observations), opts.MaxPoints)
	a.Logger.Info().
		Int("observations", len(observations)).
		Int("points", len(points)).
		Str("group", opts.ProductGroupKey).
		Str("channel", opts.Channel).
		Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.ProductGroupKey, opts.Channel, points); err != nil {
			return err
		}
	}

	return nil
}

// buildHistory folds raw observations into per-instant points. Several
// competitors captured in the same round collapse to their minimum price.
func buildHistory(observations []storage.PriceObservation) []historyPoint {
	byInstant := make(map[time.Time]*historyPoint)
	order := make([]time.Time, 0)

	for _, obs := range observations {
		at := obs.CapturedAt.UTC()
		point, ok := byInstant[at]
		if !ok {
			point = &historyPoint{At: at}
			byInstant[at] = point
			order = append(order, at)
		}

		price := obs.Price
		switch obs.Role {
		case storage.RoleOwn:
			point.Own = &price
		case storage.RoleCompetitor:
			if point.MinCompetitor == nil || price.LessThan(*point.MinCompetitor) {
				point.MinCompetitor = &price
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	points := make([]historyPoint, 0, len(order))
	for _, at := range order {
		points = append(points, *byInstant[at])
	}
	return points
}

func downsamplePoints(points []historyPoint, max int) []historyPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]historyPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []historyPoint) error {
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

	header := []string{"captured_at", "own_price", "min_competitor_price", "gap_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			point.At.Format(time.RFC3339),
			decimalOrEmpty(point.Own, 2),
			decimalOrEmpty(point.MinCompetitor, 2),
			decimalOrEmpty(point.GapPct(), 4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, group, channel string, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		ownX, minX, gapX []time.Time
		ownY, minY, gapY []float64
	)
	for _, point := range points {
		if point.Own != nil {
			ownX = append(ownX, point.At)
			ownY = append(ownY, point.Own.InexactFloat64())
		}
		if point.MinCompetitor != nil {
			minX = append(minX, point.At)
			minY = append(minY, point.MinCompetitor.InexactFloat64())
		}
		if gap := point.GapPct(); gap != nil {
			gapX = append(gapX, point.At)
			gapY = append(gapY, gap.Mul(decimal.NewFromInt(100)).InexactFloat64())
		}
	}
	if len(ownX) < 2 && len(minX) < 2 {
		return errors.New("not enough points to draw a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  group + " @ " + channel,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Gap (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
	}

	if len(ownX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Own",
			XValues: ownX,
			YValues: ownY,
		})
	}
	if len(minX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Min competitor",
			XValues: minX,
			YValues: minY,
		})
	}
	if len(gapX) >= 2 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Gap %",
			XValues: gapX,
			YValues: gapY,
			YAxis:   chart.YAxisSecondary,
		})
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

func decimalOrEmpty(d *decimal.Decimal, places int32) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(places)
}
