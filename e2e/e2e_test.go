//go:build e2e

package e2e

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

var opts = godog.Options{
	Output: colors.Colored(os.Stdout),
	Format: "pretty",
	Paths:  []string{"features"},
	Strict: true,
	Tags:   os.Getenv("E2E_TAGS"),
}

func init() {
	godog.BindCommandLineFlags("godog.", &opts)
}

// TestConsentLedgerFeatures drives the running server through the Gherkin
// scenarios under features/.
func TestConsentLedgerFeatures(t *testing.T) {
	flag.Parse()
	opts.TestingT = t

	status := godog.TestSuite{
		Name:                "consentledger",
		ScenarioInitializer: func(sc *godog.ScenarioContext) { initializeScenario(t, sc) },
		Options:             &opts,
	}.Run()
	if status != 0 {
		t.Fatalf("feature run exited with status %d", status)
	}
}

func initializeScenario(t *testing.T, sc *godog.ScenarioContext) {
	tc := &TestContext{}

	// every scenario starts unauthenticated with nothing remembered
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		fresh, err := NewTestContext()
		if err != nil {
			return ctx, err
		}
		*tc = *fresh
		return ctx, nil
	})

	sc.After(func(ctx context.Context, s *godog.Scenario, err error) (context.Context, error) {
		if err != nil {
			t.Logf("scenario %q failed; last response %d: %s", s.Name, tc.GetLastResponseStatus(), tc.LastResponseBody)
		}
		return ctx, nil
	})

	RegisterSteps(sc, tc)
}
