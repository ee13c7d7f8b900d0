package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/xoelrdgz/authradar/internal/domain"
)

var (
	reportSince   string
	reportTypes   []string
	reportQuery   string
	reportLimit   int
	reportLastN   int
	reportTop     int
	reportLocated bool
	reportJSON    bool
	timeline      string
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List per-IP incidents from the static auth log",
	Long: `Aggregate the static auth log into per-IP incidents, enrich them with
geolocation and print them busiest first.

Examples:
  authradar incidents --since 24h
  authradar incidents --types failed_login,invalid_user --located
  authradar incidents --top 10 --json`,
	RunE: runIncidents,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the static auth log",
	Long: `Print event totals, unique sources and top countries for a window.
With --timeline, print per-hour or per-day buckets instead.`,
	RunE: runStats,
}

func init() {
	for _, cmd := range []*cobra.Command{incidentsCmd, statsCmd} {
		cmd.Flags().StringVar(&reportSince, "since", "all", "time window: 1h, 24h, 7d, 30d or all")
		cmd.Flags().BoolVar(&reportJSON, "json", false, "print JSON instead of a table")
	}
	incidentsCmd.Flags().StringSliceVarP(&reportTypes, "types", "t", nil, "only count these event kinds")
	incidentsCmd.Flags().StringVarP(&reportQuery, "query", "q", "", "only IPs containing this text")
	incidentsCmd.Flags().IntVarP(&reportLimit, "limit", "n", 0, "maximum incidents (default: api.default_limit)")
	incidentsCmd.Flags().IntVar(&reportLastN, "last-n", 0, "only aggregate the most recent N events")
	incidentsCmd.Flags().IntVar(&reportTop, "top", 0, "show the N busiest sources")
	incidentsCmd.Flags().BoolVar(&reportLocated, "located", false, "only incidents with known coordinates")
	statsCmd.Flags().StringVar(&timeline, "timeline", "", "bucket events by hour or day")
}

func parseReportWindow() (domain.TimeWindow, error) {
	window, ok := domain.ParseTimeWindow(reportSince)
	if !ok {
		return domain.TimeWindow{}, fmt.Errorf("unknown window %q: use 1h, 24h, 7d, 30d or all", reportSince)
	}
	return window, nil
}

func runIncidents(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel, true)

	window, err := parseReportWindow()
	if err != nil {
		return err
	}
	q := domain.IncidentQuery{
		Window:      window,
		IPContains:  reportQuery,
		Limit:       reportLimit,
		LastN:       reportLastN,
		LocatedOnly: reportLocated,
	}
	for _, t := range reportTypes {
		kind, ok := domain.ParseEventKind(strings.TrimSpace(t))
		if !ok {
			return fmt.Errorf("unknown event type %q", t)
		}
		q.Kinds = append(q.Kinds, kind)
	}

	geoStack, err := buildGeo(settings, nil)
	if err != nil {
		return err
	}
	defer geoStack.Close()
	_, service := buildIncidents(settings, geoStack.locator)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var incidents []domain.EnrichedIncident
	if reportTop > 0 {
		incidents, err = service.Top(ctx, window, reportTop)
	} else {
		incidents, err = service.Query(ctx, q)
	}
	if err != nil {
		return err
	}

	if reportJSON {
		return printJSON(os.Stdout, incidents)
	}
	printIncidentTable(os.Stdout, incidents)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel, true)

	window, err := parseReportWindow()
	if err != nil {
		return err
	}

	geoStack, err := buildGeo(settings, nil)
	if err != nil {
		return err
	}
	defer geoStack.Close()
	_, service := buildIncidents(settings, geoStack.locator)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if timeline != "" {
		buckets, err := service.Timeline(ctx, window, timeline)
		if err != nil {
			return err
		}
		if reportJSON {
			return printJSON(os.Stdout, buckets)
		}
		printTimelineTable(os.Stdout, buckets)
		return nil
	}

	stats, err := service.Stats(ctx, window)
	if err != nil {
		return err
	}
	if reportJSON {
		return printJSON(os.Stdout, stats)
	}
	printStats(os.Stdout, stats)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff41"))

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#404040"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...)
}

func printIncidentTable(w io.Writer, incidents []domain.EnrichedIncident) {
	if len(incidents) == 0 {
		fmt.Fprintln(w, "No incidents found.")
		return
	}

	t := newTable("IP", "EVENTS", "KINDS", "LAST SEEN", "COUNTRY", "CITY", "ORG")
	for _, inc := range incidents {
		kinds := make([]string, len(inc.Kinds))
		for i, k := range inc.Kinds {
			kinds[i] = string(k)
		}
		t.Row(
			inc.IP,
			strconv.Itoa(inc.Count),
			strings.Join(kinds, ","),
			inc.LastSeen.Format(time.DateTime),
			inc.Geo.Country,
			inc.Geo.City,
			inc.Geo.Org,
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printStats(w io.Writer, s domain.IncidentStats) {
	fmt.Fprintf(w, "Window:       %s\n", s.Window)
	fmt.Fprintf(w, "Total events: %d\n", s.TotalEvents)
	fmt.Fprintf(w, "Unique IPs:   %d\n", s.UniqueIPs)
	if s.FirstSeen != nil && s.LastSeen != nil {
		fmt.Fprintf(w, "Span:         %s - %s\n", s.FirstSeen.Format(time.DateTime), s.LastSeen.Format(time.DateTime))
	}

	kinds := newTable("KIND", "EVENTS")
	for _, k := range domain.EventKinds {
		if n := s.ByKind[k]; n > 0 {
			kinds.Row(string(k), strconv.Itoa(n))
		}
	}
	fmt.Fprintln(w, kinds.Render())

	if len(s.TopCountries) > 0 {
		countries := newTable("COUNTRY", "EVENTS")
		for _, c := range s.TopCountries {
			countries.Row(c.Country, strconv.Itoa(c.Count))
		}
		fmt.Fprintln(w, countries.Render())
	}
}

func printTimelineTable(w io.Writer, buckets []domain.TimelineBucket) {
	if len(buckets) == 0 {
		fmt.Fprintln(w, "No events in window.")
		return
	}
	t := newTable("START", "TOTAL", "FAILED", "INVALID", "ACCEPTED", "BREAK-IN")
	for _, b := range buckets {
		t.Row(
			b.Start.Format(time.DateTime),
			strconv.Itoa(b.Total),
			strconv.Itoa(b.ByKind[domain.KindFailedLogin]),
			strconv.Itoa(b.ByKind[domain.KindInvalidUser]),
			strconv.Itoa(b.ByKind[domain.KindAcceptedLogin]),
			strconv.Itoa(b.ByKind[domain.KindBreakInAttempt]),
		)
	}
	fmt.Fprintln(w, t.Render())
}
