package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

var pct100 = decimal.NewFromInt(100)

// ShowAlerts prints the most recent alerts.
func (a *App) ShowAlerts(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tCreated (UTC)\tGroup\tChannel\tOwn\tMin Comp\tGap%\tResolved\tDetail")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			alert.ID,
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.ProductGroupKey,
			alert.Channel,
			alert.OwnPrice.StringFixed(2),
			alert.MinCompetitorPrice.StringFixed(2),
			alert.GapPct.Mul(pct100).StringFixed(2),
			alert.Resolved,
			sanitizeInline(alert.Detail),
		)
	}

	writer.Flush()
	return nil
}

// ShowObservations prints the most recent price captures.
func (a *App) ShowObservations(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	observations, err := store.ListRecentObservations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Captured (UTC)\tGroup\tChannel\tRole\tPrice\tStock\tCurrency\tLabel")

	for _, obs := range observations {
		stock := ""
		if obs.Stock != nil {
			stock = fmt.Sprintf("%d", *obs.Stock)
		}
		label := ""
		if obs.CompetitorLabel != nil {
			label = *obs.CompetitorLabel
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			obs.CapturedAt.UTC().Format(time.RFC3339),
			obs.ProductGroupKey,
			obs.Channel,
			obs.Role,
			obs.Price.StringFixed(2),
			stock,
			obs.Currency,
			label,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
