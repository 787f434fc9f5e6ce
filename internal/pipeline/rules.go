package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/gradintel/tuition-cli/internal/model"
)

// Plausibility bounds for US graduate programs. Mild excursions raise an
// issue; excursions beyond double the bound fail the check outright.
const (
	minTuitionUSD   = 5_000
	maxTuitionUSD   = 300_000
	minCostPerCred  = 100
	maxCostPerCred  = 5_000
	minTotalCredits = 20
	maxTotalCredits = 100

	// calcPassTolerance is the relative difference under which tuition and
	// cost_per_credit x total_credits are considered consistent. Between the
	// two tolerances the mismatch counts as a minor issue (fees, rounding).
	calcPassTolerance  = 0.05
	calcMinorTolerance = 0.15
)

// Completeness weights. Required fields dominate the score and any missing
// required field fails verification.
const (
	weightRequired  = 50.0
	weightImportant = 35.0
	weightOptional  = 15.0
)

// RuleReport is the outcome of the deterministic verification rules. It is a
// pure function of the candidate: same candidate, same report.
type RuleReport struct {
	Passed            bool
	Issues            []string
	Validations       []string
	CompletenessScore float64
}

var academicYearRe = regexp.MustCompile(`(19|20)\d{2}`)

// EvaluateRules runs the four deterministic checks (calculation consistency,
// value ranges, data recency, completeness) against a candidate. now anchors
// the recency window.
func EvaluateRules(c *model.ExtractionCandidate, now time.Time) RuleReport {
	var r RuleReport

	calcOK := r.checkCalculation(c)
	rangeOK := r.checkRanges(c)
	recentOK := r.checkRecency(c, now)
	completeOK := r.checkCompleteness(c)

	r.Passed = calcOK && rangeOK && recentOK && completeOK
	return r
}

// checkCalculation cross-checks tuition_amount against cost_per_credit x
// total_credits when all three are present. Vacuously passes otherwise.
func (r *RuleReport) checkCalculation(c *model.ExtractionCandidate) bool {
	if c.TuitionAmount == nil || c.CostPerCredit == nil || c.TotalCredits == nil {
		return true
	}
	expected := *c.CostPerCredit * *c.TotalCredits
	if expected <= 0 {
		r.issue("cost_per_credit x total_credits is non-positive, cannot cross-check tuition")
		return false
	}

	diff := math.Abs(*c.TuitionAmount-expected) / expected
	switch {
	case diff <= calcPassTolerance:
		r.validate("tuition_amount consistent with cost_per_credit x total_credits (%.1f%% difference)", diff*100)
		return true
	case diff <= calcMinorTolerance:
		r.issue("tuition_amount differs from cost_per_credit x total_credits by %.1f%%, may include fees", diff*100)
		return true
	default:
		r.issue("tuition_amount differs from cost_per_credit x total_credits by %.1f%%", diff*100)
		return false
	}
}

func (r *RuleReport) checkRanges(c *model.ExtractionCandidate) bool {
	ok := true
	ok = r.checkRange("tuition_amount", c.TuitionAmount, minTuitionUSD, maxTuitionUSD) && ok
	ok = r.checkRange("cost_per_credit", c.CostPerCredit, minCostPerCred, maxCostPerCred) && ok
	ok = r.checkRange("total_credits", c.TotalCredits, minTotalCredits, maxTotalCredits) && ok
	if ok && (c.TuitionAmount != nil || c.CostPerCredit != nil || c.TotalCredits != nil) {
		r.validate("numeric values within plausible ranges")
	}
	return ok
}

// checkRange raises an issue for any excursion and fails the check only for
// values below half the minimum or above double the maximum.
func (r *RuleReport) checkRange(field string, v *float64, min, max float64) bool {
	if v == nil {
		return true
	}
	if *v >= min && *v <= max {
		return true
	}
	r.issue("%s %.0f outside plausible range [%.0f, %.0f]", field, *v, min, max)
	return *v >= min/2 && *v <= max*2
}

// checkRecency verifies the academic year falls within one year of now.
// A missing year is a completeness concern, not a recency one.
func (r *RuleReport) checkRecency(c *model.ExtractionCandidate, now time.Time) bool {
	if c.AcademicYear == "" {
		return true
	}
	m := academicYearRe.FindString(c.AcademicYear)
	if m == "" {
		r.issue("academic_year %q does not contain a recognizable year", c.AcademicYear)
		return false
	}
	year, _ := strconv.Atoi(m)
	cur := now.UTC().Year()
	if year < cur-1 || year > cur+1 {
		r.issue("academic_year %q is stale, expected %d-%d", c.AcademicYear, cur-1, cur+1)
		return false
	}
	r.validate("academic_year %q is current", c.AcademicYear)
	return true
}

// checkCompleteness scores field presence. Required fields carry 50% of the
// score, important 35%, optional 15%; any missing required field fails.
func (r *RuleReport) checkCompleteness(c *model.ExtractionCandidate) bool {
	required := []fieldPresence{
		{"tuition_amount", c.TuitionAmount != nil},
		{"tuition_period", c.TuitionPeriod != ""},
		{"academic_year", c.AcademicYear != ""},
	}
	important := []fieldPresence{
		{"cost_per_credit", c.CostPerCredit != nil},
		{"total_credits", c.TotalCredits != nil},
		{"program_length", c.ProgramLength != ""},
	}
	optional := []fieldPresence{
		{"is_stem", c.IsSTEM != nil},
		{"source_url", c.SourceURL != ""},
	}

	ok := true
	for _, f := range required {
		if !f.present {
			r.issue("required field %s is missing", f.name)
			ok = false
		}
	}

	score := weightRequired*presentFraction(required) +
		weightImportant*presentFraction(important) +
		weightOptional*presentFraction(optional)
	r.CompletenessScore = math.Round(score*10) / 10

	if ok {
		r.validate("all required fields present (completeness %.1f%%)", r.CompletenessScore)
	}
	return ok
}

type fieldPresence struct {
	name    string
	present bool
}

func presentFraction(fields []fieldPresence) float64 {
	n := 0
	for _, f := range fields {
		if f.present {
			n++
		}
	}
	return float64(n) / float64(len(fields))
}

func (r *RuleReport) issue(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

func (r *RuleReport) validate(format string, args ...any) {
	r.Validations = append(r.Validations, fmt.Sprintf(format, args...))
}
