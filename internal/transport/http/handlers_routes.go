package httptransport

import (
	"net/http"

	"profilegate/internal/routes"
	"profilegate/pkg/platform/httputil"
)

type routeResponse struct {
	Prefix                  string          `json:"prefix"`
	Category                routes.Category `json:"category"`
	RequiresCompleteProfile bool            `json:"requires_complete_profile"`
}

type routeTableResponse struct {
	Login      string          `json:"login"`
	Onboarding string          `json:"onboarding"`
	Feed       string          `json:"feed"`
	Landing    string          `json:"landing"`
	Rules      []routeResponse `json:"rules"`
}

// RouteTableHandler exposes the active route classification for audits.
func RouteTableHandler(table *routes.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := routeTableResponse{
			Login:      table.LoginPath(),
			Onboarding: table.OnboardingPath(),
			Feed:       table.FeedPath(),
			Landing:    table.LandingPath(),
		}
		for _, rule := range table.Rules() {
			resp.Rules = append(resp.Rules, routeResponse{
				Prefix:                  rule.Prefix,
				Category:                rule.Category,
				RequiresCompleteProfile: table.Classify(rule.Prefix).RequiresCompleteProfile,
			})
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
