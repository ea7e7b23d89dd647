// Package report turns aggregated response statistics into the daily HTML email.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/stats"
)

// Document is a rendered report ready for delivery.
type Document struct {
	Subject string
	HTML    string
}

// Options controls presentation only; it never changes the numbers.
type Options struct {
	Account string // shown under the title when set
}

// RenderError is returned when the template cannot be executed.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "render report: " + e.Err.Error() }
func (e *RenderError) Unwrap() error { return e.Err }

type windowView struct {
	Title       string
	HasData     bool
	Total       int
	Avg         string
	Median      string
	Fastest     string
	Slowest     string
	HasSubtypes bool
	IMessages   int
	SMS         int
}

type sectionView struct {
	Title   string
	Windows []windowView
}

type distributionView struct {
	UnderHour, UnderDay, DayOrLonger          int
	UnderHourPct, UnderDayPct, DayOrLongerPct int
}

type pageView struct {
	Title        string
	Account      string
	Period       string
	HasData      bool
	Headline     windowView
	Distribution *distributionView
	Sections     []sectionView
	Combined     *sectionView
	GeneratedAt  string
}

// Subject returns the email subject for a report generated at t.
func Subject(t time.Time) string {
	return "Daily Response Time Report - " + t.UTC().Format("2006-01-02")
}

// Render builds the report for s. Channels absent from s are left out of the
// body entirely. The combined section appears only when more than one
// channel contributed, and is always taken from s.Combined.
func Render(s stats.Summary, opts Options) (*Document, error) {
	view := pageView{
		Title:       "Daily Response Time Report",
		Account:     opts.Account,
		Period:      periodLabel(s.GeneratedAt),
		HasData:     s.Check() == nil,
		GeneratedAt: s.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	day := s.Combined.Window(stats.Window24h)
	view.Headline = newWindowView(day)
	if day.HasData() {
		d := stats.Distribute(day)
		view.Distribution = &distributionView{
			UnderHour:      d.UnderHour,
			UnderDay:       d.UnderDay,
			DayOrLonger:    d.DayOrLonger,
			UnderHourPct:   stats.Percent(d.UnderHour, day.TotalResponses),
			UnderDayPct:    stats.Percent(d.UnderDay, day.TotalResponses),
			DayOrLongerPct: stats.Percent(d.DayOrLonger, day.TotalResponses),
		}
	}

	for _, g := range s.Groups {
		view.Sections = append(view.Sections, newSectionView(g.Channel.Title(), g))
	}
	if len(s.Groups) > 1 {
		combined := newSectionView("All Sources", s.Combined)
		view.Combined = &combined
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		return nil, &RenderError{Err: err}
	}

	return &Document{
		Subject: Subject(s.GeneratedAt),
		HTML:    buf.String(),
	}, nil
}

func periodLabel(now time.Time) string {
	start := now.Add(-24 * time.Hour).UTC()
	return fmt.Sprintf("%s - %s", start.Format("Jan 02, 2006 03:04 PM"), now.UTC().Format("Jan 02, 03:04 PM UTC"))
}

func newSectionView(title string, g stats.GroupStats) sectionView {
	sec := sectionView{Title: title}
	for _, w := range stats.Windows {
		sec.Windows = append(sec.Windows, newWindowView(g.Window(w)))
	}
	return sec
}

func newWindowView(ws stats.WindowStats) windowView {
	v := windowView{
		Title:   ws.Window.Title(),
		HasData: ws.HasData(),
		Total:   ws.TotalResponses,
	}
	if ws.IMessageCount != nil && ws.SMSCount != nil {
		v.HasSubtypes = true
		v.IMessages = *ws.IMessageCount
		v.SMS = *ws.SMSCount
	}
	if !v.HasData {
		return v
	}
	v.Avg = FormatDuration(*ws.AvgResponseSeconds)
	v.Median = FormatDuration(*ws.MedianResponseSeconds)
	v.Fastest = FormatDuration(float64(*ws.FastestSeconds))
	v.Slowest = FormatDuration(float64(*ws.SlowestSeconds))
	return v
}

var pageTemplate = template.Must(template.New("report").Parse(`<html>
<head>
<style>
body { font-family: Arial, sans-serif; padding: 20px; background-color: #f5f5f5; }
.container { max-width: 600px; margin: 0 auto; background-color: white; padding: 30px; border-radius: 10px; }
h2 { color: #2c3e50; border-bottom: 3px solid #3498db; padding-bottom: 10px; margin-bottom: 5px; }
.subtitle { color: #7f8c8d; font-size: 14px; margin-bottom: 20px; }
.metric { background-color: #ecf0f1; padding: 15px; margin: 10px 0; border-radius: 5px; border-left: 4px solid #3498db; }
.metric-label { color: #7f8c8d; font-size: 14px; margin-bottom: 5px; }
.metric-value { color: #2c3e50; font-size: 24px; font-weight: bold; }
.stat-row { display: flex; justify-content: space-between; padding: 10px; background-color: #f8f9fa; border-radius: 5px; margin: 4px 0; }
.stat-label { color: #555; }
.stat-value { color: #2c3e50; font-weight: bold; }
.distribution { margin-top: 20px; padding: 15px; background-color: #e8f4f8; border-radius: 5px; }
.source { margin-top: 30px; padding: 20px; background-color: #f9f9f9; border-radius: 5px; border-top: 2px solid #ddd; }
.period { margin-bottom: 20px; padding: 15px; background-color: white; border-radius: 5px; border-left: 3px solid #95a5a6; }
.period-header { font-weight: bold; color: #555; margin-bottom: 10px; font-size: 16px; }
.nodata { color: #666; }
.footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #ddd; font-size: 12px; color: #999; text-align: center; }
</style>
</head>
<body>
<div class="container">
<h2>{{.Title}}</h2>
<div class="subtitle">{{.Period}}</div>
{{- if .Account}}
<p><strong>Account:</strong> {{.Account}}</p>
{{- end}}
{{- if not .HasData}}
<p class="nodata">No data: no responses were found in any window.</p>
{{- end}}
{{- with .Headline}}{{if .HasData}}
<p><strong>Responses Sent (24h):</strong> {{.Total}}</p>
<div class="metric">
<div class="metric-label">Average Response Time (24h)</div>
<div class="metric-value">{{.Avg}}</div>
</div>
{{- end}}{{end}}
{{- with .Distribution}}
<div class="distribution">
<h3 style="margin-top: 0;">Response Time Distribution (24h)</h3>
<div class="stat-row"><span class="stat-label">Under 1 hour</span><span class="stat-value">{{.UnderHour}} ({{.UnderHourPct}}%)</span></div>
<div class="stat-row"><span class="stat-label">1-24 hours</span><span class="stat-value">{{.UnderDay}} ({{.UnderDayPct}}%)</span></div>
<div class="stat-row"><span class="stat-label">Over 24 hours</span><span class="stat-value">{{.DayOrLonger}} ({{.DayOrLongerPct}}%)</span></div>
</div>
{{- end}}
{{- range .Sections}}
{{template "section" .}}
{{- end}}
{{- with .Combined}}
{{template "section" .}}
{{- end}}
<div class="footer">Generated on {{.GeneratedAt}}<br>replyclock - automated response time tracking</div>
</div>
</body>
</html>
{{define "section"}}<div class="source">
<h3>{{.Title}}</h3>
{{- range .Windows}}
<div class="period">
<div class="period-header">{{.Title}}</div>
{{- if .HasData}}
<div class="stat-row"><span class="stat-label">Total Responses</span><span class="stat-value">{{.Total}}</span></div>
{{- if .HasSubtypes}}
<div class="stat-row"><span class="stat-label">iMessage / SMS</span><span class="stat-value">{{.IMessages}} / {{.SMS}}</span></div>
{{- end}}
<div class="stat-row"><span class="stat-label">Average Response Time</span><span class="stat-value">{{.Avg}}</span></div>
<div class="stat-row"><span class="stat-label">Median Response Time</span><span class="stat-value">{{.Median}}</span></div>
<div class="stat-row"><span class="stat-label">Fastest Response</span><span class="stat-value">{{.Fastest}}</span></div>
<div class="stat-row"><span class="stat-label">Slowest Response</span><span class="stat-value">{{.Slowest}}</span></div>
{{- else}}
<p class="nodata">No data</p>
{{- end}}
</div>
{{- end}}
</div>{{end}}`))
