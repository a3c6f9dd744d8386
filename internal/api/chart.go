package api

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/scourlab/scour/internal/ledger"
)

const (
	chartWidth  = "900px"
	chartHeight = "420px"
	pieRadius   = "65%"
)

// Chart renders the metrics dashboard as a self-contained HTML page: a
// trailing-24h request histogram and a status distribution pie.
func (h *Handlers) Chart(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Metrics(r.Context())
	if err != nil {
		h.internalError(w, r, "aggregate metrics", err)

		return
	}

	page := components.NewPage()
	page.PageTitle = "Research pipeline metrics"
	page.AddCharts(
		hourlyBarChart(summary.RequestsByHour),
		statusPieChart(summary.RequestsByStatus),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := page.Render(w); err != nil {
		h.log.ErrorContext(r.Context(), "render metrics page", slog.Any("error", err))
	}
}

func hourlyBarChart(buckets []ledger.HourCount) *charts.Bar {
	labels := make([]string, len(buckets))
	values := make([]opts.BarData, len(buckets))

	for i, b := range buckets {
		labels[i] = b.Hour.Format("15:04")
		values[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Requests by hour",
			Subtitle: "Trailing 24 hours",
		}),
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("Requests", values)

	return bar
}

func statusPieChart(byStatus map[string]int64) *charts.Pie {
	statuses := make([]string, 0, len(byStatus))
	for status := range byStatus {
		statuses = append(statuses, status)
	}

	// Map iteration order would reshuffle the pie on every render.
	sort.Strings(statuses)

	data := make([]opts.PieData, 0, len(statuses))
	for _, status := range statuses {
		data = append(data, opts.PieData{Name: status, Value: byStatus[status]})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Requests by status"}),
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	pie.AddSeries("Status", data).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
			charts.WithPieChartOpts(opts.PieChart{Radius: pieRadius}),
		)

	return pie
}
