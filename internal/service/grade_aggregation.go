package service

import (
	"math"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

// PassingAverage is the minimum average counted as a pass.
const PassingAverage = 10.0

// RoundScore rounds a score half away from zero to two decimals.
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// SubjectScore returns the score a subject contributes for scope. For a single term it is that
// term's score; for ANNUAL it is the mean of whichever terms are graded. Nil means the subject
// is not part of the computation.
func SubjectScore(subject models.SubjectGrade, scope models.Scope) *float64 {
	if scope.IsTerm() {
		return subject.Term(scope)
	}
	if scope != models.ScopeAnnual {
		return nil
	}
	var sum float64
	var n int
	for _, v := range []*float64{subject.T1, subject.T2, subject.T3} {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// ComputeWeightedAverage returns the coefficient-weighted average of subjects for scope, rounded
// to two decimals. Subjects without a score for the scope are left out of both sums. It returns
// nil when no subject can be counted, which callers treat as "pending", never as zero.
func ComputeWeightedAverage(subjects []models.SubjectGrade, scope models.Scope) *float64 {
	var weighted float64
	var coefficients int
	for _, subject := range subjects {
		if subject.Coefficient < 1 {
			continue
		}
		score := SubjectScore(subject, scope)
		if score == nil {
			continue
		}
		weighted += *score * float64(subject.Coefficient)
		coefficients += subject.Coefficient
	}
	if coefficients == 0 {
		return nil
	}
	avg := RoundScore(weighted / float64(coefficients))
	return &avg
}

// ValidateTermRequirements lists the subjects lacking the score scope requires, in input order.
// It only reports; deciding whether gaps block a workflow step is up to the caller.
func ValidateTermRequirements(subjects []models.SubjectGrade, scope models.Scope) models.TermValidation {
	missing := make([]string, 0)
	for _, subject := range subjects {
		if SubjectScore(subject, scope) != nil {
			continue
		}
		name := subject.SubjectName
		if name == "" {
			name = subject.SubjectID
		}
		missing = append(missing, name)
	}
	return models.TermValidation{Valid: len(missing) == 0, MissingSubjects: missing}
}

// CouncilThreshold maps a minimum annual average to the mention it earns.
type CouncilThreshold struct {
	Min     float64
	Mention models.Mention
}

// CouncilThresholds is the promotion table, highest first. Any average reaching one of these
// rows is promoted; below the last row the student repeats the year with no mention.
var CouncilThresholds = []CouncilThreshold{
	{Min: 16, Mention: models.MentionExcellent},
	{Min: 14, Mention: models.MentionGood},
	{Min: 12, Mention: models.MentionFair},
	{Min: PassingAverage, Mention: models.MentionPass},
}

// DetermineCouncilDecision derives the end-of-year decision from the annual average.
// Thresholds are compared against the unrounded average; only the reported value is rounded.
func DetermineCouncilDecision(annualAverage float64) models.CouncilDecision {
	avg := RoundScore(annualAverage)
	for _, threshold := range CouncilThresholds {
		if annualAverage >= threshold.Min {
			return models.CouncilDecision{Decision: models.DecisionPromote, Mention: threshold.Mention, AnnualAverage: avg}
		}
	}
	return models.CouncilDecision{Decision: models.DecisionRepeat, Mention: models.MentionNone, AnnualAverage: avg}
}
