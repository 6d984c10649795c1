package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/store"
)

const (
	gapProbeConcurrency = 4
	maxReportedGaps     = 10
	maxRecommendations  = 5
)

var (
	expectedAgeGroups = []string{"5-6 years", "7-8 years", "9-10 years", "11-12 years"}
	expectedThemes    = []string{"winter", "spring", "summer", "fall", "holiday", "space", "animals", "sports", "art", "science", "nature"}
	expectedTypes     = []string{"Art", "Craft", "Science", "Physical", "Game", "Music", "Drama", "STEM"}
)

var severityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

type analyzeGapsArgs struct {
	FocusAreas []string `json:"focus_areas,omitempty" jsonschema:"description=Extra topics to check coverage for" validate:"max=10,dive,required,max=100"`
}

// Gap is one under-covered area of the catalog.
type Gap struct {
	Type         string `json:"type"`
	Area         string `json:"area"`
	CurrentCount int    `json:"current_count"`
	Severity     string `json:"severity"`
	Suggestion   string `json:"suggestion"`
}

// CoverageSummary counts matches per probed area.
type CoverageSummary struct {
	AgeGroups map[string]int `json:"age_groups"`
	Themes    map[string]int `json:"themes"`
	Types     map[string]int `json:"types"`
	LowPrep   int            `json:"low_prep"`
}

// GapAnalysis is returned by analyze_database_gaps.
type GapAnalysis struct {
	Success         bool            `json:"success"`
	GapsFound       int             `json:"gaps_found"`
	Gaps            []Gap           `json:"gaps"`
	CoverageSummary CoverageSummary `json:"coverage_summary"`
	Recommendations []string        `json:"recommendations"`
}

// gapProbe is one coverage query and the rule that turns its hit count into
// a gap.
type gapProbe struct {
	kind  string
	area  string
	query string
	limit int
	judge func(count int) (severity string, isGap bool)
	hint  string

	count int
	ok    bool
}

// TypeCounter counts catalog activities; used for the per-type summary.
type TypeCounter interface {
	CountActivities(ctx context.Context, filter store.ActivityFilter) (int, error)
}

// AnalyzeDatabaseGapsTool reports under-covered areas of the catalog.
type AnalyzeDatabaseGapsTool struct {
	spec toolSpec
}

func NewAnalyzeDatabaseGapsTool() *AnalyzeDatabaseGapsTool {
	return &AnalyzeDatabaseGapsTool{spec: newToolSpec[analyzeGapsArgs](
		AnalyzeDatabaseGapsToolName,
		"Analyze the activity database for gaps in coverage across age groups and themes and low-prep options. Returns suggestions for what activities to add.",
	)}
}

func (t *AnalyzeDatabaseGapsTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *AnalyzeDatabaseGapsTool) Execute(ctx context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[analyzeGapsArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}
	if ec.Search == nil {
		return nil, NewToolError(ErrUnavailable, "activity search is not available")
	}

	probes := gapProbes(args.FocusAreas)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gapProbeConcurrency)
	for _, p := range probes {
		g.Go(func() error {
			results, err := ec.Search.Search(gctx, p.query, p.limit, rag.Filters{})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				ec.logger().Warn("gap analysis probe failed", "type", p.kind, "area", p.area, "error", err)
				return nil
			}
			p.count, p.ok = len(results), true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, NewToolErrorf(ErrTimeout, "gap analysis interrupted: %v", err)
	}

	out := GapAnalysis{
		Success: true,
		CoverageSummary: CoverageSummary{
			AgeGroups: map[string]int{},
			Themes:    map[string]int{},
			Types:     map[string]int{},
		},
		Gaps:            []Gap{},
		Recommendations: []string{},
	}
	var gaps []Gap
	for _, p := range probes {
		if !p.ok {
			continue
		}
		switch p.kind {
		case "age_group":
			out.CoverageSummary.AgeGroups[p.area] = p.count
		case "theme":
			out.CoverageSummary.Themes[p.area] = p.count
		case "prep_level":
			out.CoverageSummary.LowPrep = p.count
		}
		if severity, isGap := p.judge(p.count); isGap {
			gaps = append(gaps, Gap{Type: p.kind, Area: p.area, CurrentCount: p.count, Severity: severity, Suggestion: p.hint})
		}
	}
	if counter, ok := ec.Activities.(TypeCounter); ok {
		for _, typ := range expectedTypes {
			n, err := counter.CountActivities(ctx, store.ActivityFilter{Type: typ})
			if err != nil {
				ec.logger().Warn("gap analysis type count failed", "type", typ, "error", err)
				continue
			}
			out.CoverageSummary.Types[typ] = n
		}
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return severityRank[gaps[i].Severity] < severityRank[gaps[j].Severity]
	})
	out.GapsFound = len(gaps)
	out.Gaps = append(out.Gaps, gaps[:min(len(gaps), maxReportedGaps)]...)
	for _, gap := range gaps[:min(len(gaps), maxRecommendations)] {
		out.Recommendations = append(out.Recommendations, "Priority: "+gap.Suggestion)
	}
	return out, nil
}

func gapProbes(focusAreas []string) []*gapProbe {
	var probes []*gapProbe
	for _, age := range expectedAgeGroups {
		probes = append(probes, &gapProbe{
			kind:  "age_group",
			area:  age,
			query: "activities for " + age,
			limit: 20,
			judge: thresholdJudge(5, func(n int) bool { return n < 3 }),
			hint:  "Add more activities specifically for " + age,
		})
	}
	for _, theme := range expectedThemes {
		probes = append(probes, &gapProbe{
			kind:  "theme",
			area:  theme,
			query: theme + " activities",
			limit: 10,
			judge: thresholdJudge(3, func(n int) bool { return n == 0 }),
			hint:  "Add " + theme + "-themed activities",
		})
	}
	probes = append(probes, &gapProbe{
		kind:  "prep_level",
		area:  "low_prep",
		query: "low prep easy setup minimal materials",
		limit: 20,
		judge: thresholdJudge(10, func(int) bool { return false }),
		hint:  "Add more low-prep activities that require minimal setup",
	})
	for _, area := range focusAreas {
		probes = append(probes, &gapProbe{
			kind:  "focus_area",
			area:  area,
			query: area,
			limit: 10,
			judge: thresholdJudge(3, func(n int) bool { return n == 0 }),
			hint:  fmt.Sprintf("Add activities related to '%s'", area),
		})
	}
	return probes
}

// thresholdJudge reports a gap when the count is below floor; high marks
// the counts that are severe.
func thresholdJudge(floor int, high func(int) bool) func(int) (string, bool) {
	return func(n int) (string, bool) {
		if n >= floor {
			return "", false
		}
		if high(n) {
			return "high", true
		}
		return "medium", true
	}
}
