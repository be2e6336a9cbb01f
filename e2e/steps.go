package e2e

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cucumber/godog"

	identitymodels "profilegate/internal/identity/models"
	"profilegate/pkg/testutil"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc func() *TestContext) {
	ctx.Step(`^the gate is running$`, func() error { return tc().Do(http.MethodGet, "/health/live") })

	// Session and data setup
	ctx.Step(`^I am not signed in$`, func() error { tc().SessionValue = ""; return nil })
	ctx.Step(`^I am signed in$`, func() error { return tc().SignIn() })
	ctx.Step(`^my session cookie is "([^"]*)"$`, func(v string) error { tc().SessionValue = v; return nil })
	ctx.Step(`^I have a profile with full name "([^"]*)" and company "([^"]*)"$`, func(name, company string) error {
		t := tc()
		t.Store.Add(testutil.NewProfileBuilder().ForUser(t.UserID).WithFullName(name).WithCompany(company).Build())
		return nil
	})
	ctx.Step(`^the profile store is failing$`, func() error { tc().Store.down = true; return nil })
	ctx.Step(`^I have the page "([^"]*)" open$`, func(route string) error { return tc().OpenPage(route) })

	// Actions
	ctx.Step(`^I visit "([^"]*)"$`, func(path string) error { return tc().Do(http.MethodGet, path) })
	ctx.Step(`^I sign out$`, func() error { return tc().Do(http.MethodPost, "/auth/signout") })
	ctx.Step(`^a sign-in completes for my browser$`, func() error {
		t := tc()
		return t.Bus.Publish(context.Background(), identitymodels.Event{
			Type:     identitymodels.EventSignedIn,
			DeviceID: t.DeviceID,
			UserID:   t.UserID,
			At:       time.Now(),
		})
	})

	// Assertions
	ctx.Step(`^I am redirected to "([^"]*)"$`, func(location string) error { return tc().redirectedTo(location) })
	ctx.Step(`^the page is served$`, func() error { return tc().pageServed() })
	ctx.Step(`^my session cookies are cleared$`, func() error { return tc().sessionCookiesCleared() })
	ctx.Step(`^the page is told to navigate to "([^"]*)"$`, func(to string) error {
		got, err := tc().NextNavigation()
		if err != nil {
			return err
		}
		if got != to {
			return fmt.Errorf("expected navigation to %q, got %q", to, got)
		}
		return nil
	})
}

func (tc *TestContext) redirectedTo(location string) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if tc.LastResponse.StatusCode != http.StatusFound {
		return fmt.Errorf("expected status 302, got %d", tc.LastResponse.StatusCode)
	}
	if got := tc.LastResponse.Header.Get("Location"); got != location {
		return fmt.Errorf("expected redirect to %q, got %q", location, got)
	}
	return nil
}

func (tc *TestContext) pageServed() error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if tc.LastResponse.StatusCode != http.StatusOK {
		return fmt.Errorf("expected status 200, got %d (location %q)",
			tc.LastResponse.StatusCode, tc.LastResponse.Header.Get("Location"))
	}
	return nil
}

func (tc *TestContext) sessionCookiesCleared() error {
	cleared := map[string]bool{}
	for _, c := range tc.LastResponse.Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	for _, name := range []string{identitymodels.AccessTokenCookie, identitymodels.RefreshTokenCookie} {
		if !cleared[name] {
			return fmt.Errorf("cookie %s was not cleared; got %s", name,
				strings.Join(tc.LastResponse.Header.Values("Set-Cookie"), " | "))
		}
	}
	return nil
}
