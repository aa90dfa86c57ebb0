// Package jobfeed is a self-contained example pipeline: fetch a synthetic
// job-posting feed, normalize it, and produce a summary report. It shows
// the full parameter surface (enum, bounded int, a toggle-gated date-range
// group) and cooperative cancellation inside a long task.
package jobfeed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"conveyor/internal/params"
	"conveyor/internal/pipeline"
)

type posting struct {
	Title    string `json:"title"`
	Company  string `json:"company"`
	Region   string `json:"region"`
	PostedAt string `json:"posted_at"`
}

// New builds the pipeline definition.
func New() *pipeline.Pipeline {
	minLimit, maxLimit := params.Bounds(1, 500)
	return &pipeline.Pipeline{
		ID:          "jobfeed",
		Name:        "Job feed",
		Description: "Fetches the job feed, normalizes postings and reports a summary.",
		Params: &params.Schema{Fields: []params.Field{
			{
				Name:        "region",
				Kind:        params.KindEnum,
				Description: "Feed region to pull.",
				Enum:        []string{"eu", "us", "apac"},
				Default:     "eu",
			},
			{
				Name:        "limit",
				Kind:        params.KindInt,
				Description: "Maximum postings to fetch.",
				Default:     int64(50),
				Min:         minLimit,
				Max:         maxLimit,
			},
			{
				Name:        "use_date_range",
				Kind:        params.KindBool,
				Description: "Restrict the feed to a date range.",
				Default:     false,
			},
			{
				Name:      "date_range",
				Kind:      params.KindGroup,
				EnabledBy: "use_date_range",
				Fields: []params.Field{
					{Name: "start", Kind: params.KindString, Required: true},
					{Name: "end", Kind: params.KindString, Required: true},
				},
			},
		}},
		Tasks: []pipeline.Task{
			{ID: "fetch", Name: "Fetch feed", Run: fetch},
			{ID: "normalize", Name: "Normalize postings", Run: normalize},
			{ID: "report", Name: "Report summary", Run: report},
		},
		Triggers: []pipeline.Trigger{
			{
				ID:       "nightly",
				Name:     "Nightly full pull",
				Schedule: "0 2 * * *",
				Params:   params.Values{"limit": int64(500)},
			},
			{
				ID:       "hourly-us",
				Name:     "Hourly US delta",
				Schedule: "@hourly",
				Params:   params.Values{"region": "us", "limit": int64(50)},
			},
		},
	}
}

func fetch(ctx context.Context, tc *pipeline.TaskContext) (any, error) {
	region := tc.Params["region"].(string)
	limit := int(tc.Params["limit"].(int64))
	tc.Log.Infof("fetching up to %d postings for region %s", limit, region)

	var out []posting
	for i := 0; i < limit; i++ {
		select {
		case <-ctx.Done():
			tc.Log.Warnf("fetch interrupted after %d postings", len(out))
			return out, nil
		default:
		}
		out = append(out, posting{
			Title:    fmt.Sprintf("Engineer %03d", i+1),
			Company:  fmt.Sprintf("company-%d", i%7),
			Region:   region,
			PostedAt: time.Now().AddDate(0, 0, -(i % 30)).Format("2006-01-02"),
		})
	}
	tc.Log.Infof("fetched %d postings", len(out))
	return out, nil
}

func normalize(ctx context.Context, tc *pipeline.TaskContext) (any, error) {
	limit := int(tc.Params["limit"].(int64))

	var from, to string
	if tc.Params["use_date_range"] == true {
		dr := tc.Params["date_range"].(params.Values)
		from = dr["start"].(string)
		to = dr["end"].(string)
		if from > to {
			return nil, fmt.Errorf("date range start %s after end %s", from, to)
		}
		tc.Log.Infof("filtering postings between %s and %s", from, to)
	}

	kept := 0
	for i := 0; i < limit; i++ {
		day := time.Now().AddDate(0, 0, -(i % 30)).Format("2006-01-02")
		if from != "" && (day < from || day > to) {
			continue
		}
		kept++
	}
	tc.Log.Infof("kept %d of %d postings", kept, limit)
	return map[string]any{"kept": kept, "dropped": limit - kept}, nil
}

func report(ctx context.Context, tc *pipeline.TaskContext) (any, error) {
	region := tc.Params["region"].(string)
	limit := int(tc.Params["limit"].(int64))

	perCompany := map[string]int{}
	for i := 0; i < limit; i++ {
		perCompany[fmt.Sprintf("company-%d", i%7)]++
	}
	companies := make([]string, 0, len(perCompany))
	for c := range perCompany {
		companies = append(companies, c)
	}
	sort.Strings(companies)

	var b strings.Builder
	fmt.Fprintf(&b, "job feed report, region %s\n", region)
	for _, c := range companies {
		fmt.Fprintf(&b, "  %s: %d\n", c, perCompany[c])
	}
	tc.Log.Infof("report ready (%d companies)", len(companies))
	return map[string]any{"region": region, "companies": len(companies), "text": b.String()}, nil
}
