// Package policy is the single authorization decision shared by the edge gate
// and the client session watcher. It is a pure function of the route, the
// presence of a session and the profile state.
package policy

import (
	"net/url"

	"profilegate/internal/routes"
)

// RedirectToParam carries the originally requested path to the login page.
const RedirectToParam = "redirectTo"

// Policy evaluates navigations against a route table.
type Policy struct {
	routes *routes.Table
}

// New builds a Policy over a validated route table.
func New(table *routes.Table) *Policy {
	return &Policy{routes: table}
}

// Routes exposes the table the policy evaluates against.
func (p *Policy) Routes() *routes.Table {
	return p.routes
}

// Decide applies the rules in order; the first match wins.
//  1. Protected route without a session: log in first, remembering the path.
//  2. Auth-only route with a session: feed when complete, onboarding otherwise.
//  3. Onboarding with a complete profile: nothing left to do, go to the feed.
//  4. Completeness-gated route with an incomplete or missing profile: onboarding.
//  5. Anything else is allowed.
func (p *Policy) Decide(path string, sessionPresent bool, state ProfileState) Decision {
	m := p.routes.Classify(path)

	if m.Category == routes.CategoryProtected && !sessionPresent {
		q := url.Values{}
		q.Set(RedirectToParam, m.Path)
		return redirect(RuleLoginRequired, p.routes.LoginPath(), q)
	}

	if !sessionPresent {
		return allow()
	}

	if m.Category == routes.CategoryAuthOnly {
		return redirect(RuleAuthOnlyWhileSignedIn, p.Landing(state), nil)
	}

	if p.routes.IsOnboarding(m.Path) && state == ProfileComplete {
		return redirect(RuleOnboardingDone, p.routes.FeedPath(), nil)
	}

	if m.RequiresCompleteProfile && state != ProfileComplete {
		return redirect(RuleProfileIncomplete, p.routes.OnboardingPath(), nil)
	}

	return allow()
}

// Landing is where a freshly signed-in visitor belongs.
func (p *Policy) Landing(state ProfileState) string {
	if state == ProfileComplete {
		return p.routes.FeedPath()
	}
	return p.routes.OnboardingPath()
}
