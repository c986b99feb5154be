package pipeline

import "github.com/codekeeper/crawler/internal/model"

// Thresholds implements the τ(method) table from spec.md §4.6.
type threshold struct {
	nonCritical float64
	critical    float64
	criticalOK  bool
}

var methodThresholds = map[model.Method]threshold{
	model.MethodReused:             {nonCritical: 0.80, critical: 0.90, criticalOK: true},
	model.MethodPattern:            {nonCritical: 0.80, critical: 0.90, criticalOK: true},
	model.MethodGeneratorContext:   {nonCritical: 0.70, critical: 0.85, criticalOK: true},
	model.MethodGeneratorCodebase:  {nonCritical: 0.70, critical: 0.85, criticalOK: true},
	model.MethodGeneratorAdvanced:  {nonCritical: 0.70, critical: 0.85, criticalOK: true},
	model.MethodGeneratorMultiFile: {nonCritical: 0.70, critical: 0.85, criticalOK: true},
	model.MethodSimpleLine:         {nonCritical: 0.75, criticalOK: false},
	model.MethodSpecialist:         {nonCritical: 0.70, critical: 0.85, criticalOK: true},
}

const (
	// HighRiskThreshold is the "regardless of method" floor for a
	// candidate whose impact prediction reports high risk with at
	// least one breaking change.
	HighRiskThreshold = 0.90

	// FixImmediatelyThreshold relaxes the required confidence when
	// cost-benefit analysis recommends immediate action.
	FixImmediatelyThreshold = 0.70

	// ValidationOverrideConfidence lets a sufficiently confident
	// candidate auto-apply despite validator warnings that fall short
	// of full verification.
	ValidationOverrideConfidence = 0.85

	// UltraAggressiveThreshold is the last-resort tier's floor: tried
	// only after every earlier tier refuses, and only over candidates
	// that passed the structural/dangerous checks.
	UltraAggressiveThreshold = 0.25
)

// IsCriticalSecurity reports whether an issue falls in the elevated
// "critical security" threshold column of spec.md §4.6's table.
func IsCriticalSecurity(issue model.Issue) bool {
	return issue.Severity == model.SeverityCritical && issue.Kind == model.KindSecurity
}

// Eligible implements the stage-0 policy gate from spec.md §4.3: "an
// issue is eligible for auto-fix iff severity in {low, medium} AND
// safety != risky; otherwise it is routed directly to needs_review."
// Decide holds elevated thresholds for critical issues, but
// internal/engine sends every issue that fails Eligible (including all
// critical and high ones) straight to needs_review without calling
// Decide, so such issues are never auto-fixed there.
func Eligible(issue model.Issue) bool {
	if issue.Safety == model.SafetyRisky {
		return false
	}
	switch issue.Severity {
	case model.SeverityLow, model.SeverityMedium:
		return true
	default:
		return false
	}
}

// Tier names the gate rule that decided a candidate's fate, for
// Outcome Record bookkeeping and learner calibration.
type Tier string

const (
	TierRejected        Tier = "rejected"
	TierStandard        Tier = "standard"
	TierHighRisk        Tier = "high-risk-floor"
	TierFixImmediately  Tier = "fix-immediately"
	TierUltraAggressive Tier = "ultra-aggressive"
)

// Decide implements spec.md §4.6 in full: the per-method threshold
// table, the high-risk floor, the negative-ROI veto, the
// fix-immediately relaxation, the validation-confidence override, and
// the ultra-aggressive last resort.
func Decide(candidate model.FixCandidate, issue model.Issue, validation model.ValidationResult) (apply bool, tier Tier) {
	if candidate.CostBenefit != nil && candidate.CostBenefit.ROI < 0 {
		return false, TierRejected
	}

	conf := candidate.Confidence()

	required, ok := requiredConfidence(candidate.Method, issue)
	resolvedTier := TierStandard

	if candidate.Impact != nil && candidate.Impact.HighRisk && candidate.Impact.BreakingChanges >= 1 {
		required = HighRiskThreshold
		ok = true
		resolvedTier = TierHighRisk
	} else if candidate.CostBenefit != nil && candidate.CostBenefit.Recommendation == "fix_immediately" {
		if !ok || FixImmediatelyThreshold <= required {
			required = FixImmediatelyThreshold
			ok = true
			resolvedTier = TierFixImmediately
		}
	}

	validated := validation.Verified || conf >= ValidationOverrideConfidence

	if ok && validated && conf >= required {
		return true, resolvedTier
	}

	if validation.StructuralOK && conf >= UltraAggressiveThreshold {
		return true, TierUltraAggressive
	}
	return false, TierRejected
}

func requiredConfidence(method model.Method, issue model.Issue) (float64, bool) {
	t, ok := methodThresholds[method]
	if !ok {
		return 0, false
	}
	if IsCriticalSecurity(issue) {
		if !t.criticalOK {
			return 0, false
		}
		return t.critical, true
	}
	return t.nonCritical, true
}
