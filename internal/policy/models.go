package policy

import "net/url"

// ProfileState is the completeness of the visitor's profile as seen by a gate.
type ProfileState int

const (
	// ProfileNone means no profile row exists, or it could not be read.
	ProfileNone ProfileState = iota
	// ProfileIncomplete means a profile exists but lacks a name or company.
	ProfileIncomplete
	// ProfileComplete means the selected profile has both a name and a company.
	ProfileComplete
)

func (s ProfileState) String() string {
	switch s {
	case ProfileIncomplete:
		return "incomplete"
	case ProfileComplete:
		return "complete"
	default:
		return "none"
	}
}

// Outcome enumerates the possible gate decisions.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeRedirect Outcome = "redirect"
)

// Rule names the policy rule that produced a decision.
type Rule string

const (
	RuleLoginRequired         Rule = "login_required"
	RuleAuthOnlyWhileSignedIn Rule = "auth_only_signed_in"
	RuleOnboardingDone        Rule = "onboarding_complete"
	RuleProfileIncomplete     Rule = "profile_incomplete"
	RuleDefaultAllow          Rule = "default_allow"
)

// Decision is the result of evaluating the policy for one navigation.
type Decision struct {
	Outcome Outcome
	Target  string
	Query   url.Values
	Rule    Rule
}

// IsRedirect reports whether the decision sends the visitor elsewhere.
func (d Decision) IsRedirect() bool { return d.Outcome == OutcomeRedirect }

// Location renders the redirect target with its query string. It returns an
// empty string for Allow decisions.
func (d Decision) Location() string {
	if !d.IsRedirect() {
		return ""
	}
	if len(d.Query) == 0 {
		return d.Target
	}
	return d.Target + "?" + d.Query.Encode()
}

func allow() Decision {
	return Decision{Outcome: OutcomeAllow, Rule: RuleDefaultAllow}
}

func redirect(rule Rule, target string, query url.Values) Decision {
	return Decision{Outcome: OutcomeRedirect, Target: target, Query: query, Rule: rule}
}
