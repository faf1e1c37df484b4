//go:build e2e

package consent

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cucumber/godog"

	id "consentledger/pkg/domain"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body any) error
	POSTWithHeaders(path string, body any, headers map[string]string) error
	ActAs(actor string) error
	AddressOf(actor string) (id.Address, error)
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Remember(name, value string)
	Recall(name string) (string, error)
}

// RegisterSteps registers consent-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc, nonce: id.NewCorrelationID().String()[:8]}

	ctx.Step(`^I request consent "([^"]*)" from "([^"]*)" for a "([^"]*)" document$`, steps.requestConsent)
	ctx.Step(`^I repeat the request for consent "([^"]*)"$`, steps.repeatRequest)
	ctx.Step(`^I request consent from "([^"]*)" with the Idempotency-Key of consent "([^"]*)"$`, steps.requestWithIdempotencyKey)
	ctx.Step(`^I grant consent "([^"]*)" with permissions "([^"]*)" for (\d+) days$`, steps.grantConsent)
	ctx.Step(`^I grant consent "([^"]*)" with permissions "([^"]*)" until "([^"]*)"$`, steps.grantConsentUntil)
	ctx.Step(`^I revoke consent "([^"]*)"$`, steps.revokeConsent)
	ctx.Step(`^I bulk revoke consents "([^"]*)"$`, steps.bulkRevoke)
	ctx.Step(`^I view the document of consent "([^"]*)"$`, steps.viewConsent)
	ctx.Step(`^I check my access to consent "([^"]*)"$`, steps.checkAccess)
	ctx.Step(`^I fetch consent "([^"]*)"$`, steps.getConsent)
	ctx.Step(`^I fetch the history of consent "([^"]*)"$`, steps.history)
	ctx.Step(`^I poll the submission of consent "([^"]*)"$`, steps.pollSubmission)
	ctx.Step(`^I list my "([^"]*)" consents as (sender|recipient)$`, steps.listAsRole)
	ctx.Step(`^I fetch my consent stats$`, steps.stats)

	ctx.Step(`^the response should reference consent "([^"]*)"$`, steps.responseShouldReference)
	ctx.Step(`^the response should list (\d+) consents?$`, steps.responseShouldListN)
	ctx.Step(`^the history should contain (\d+) or more events$`, steps.historyAtLeast)
	ctx.Step(`^the stats field "([^"]*)" should be at least (\d+)$`, steps.statAtLeast)
}

type consentSteps struct {
	tc TestContext
	// nonce keeps document types unique per scenario so list filters only see
	// this scenario's records on a shared server.
	nonce string
}

func (s *consentSteps) docType(name string) string {
	return name + "-" + s.nonce
}

func (s *consentSteps) consentID(name string) (string, error) {
	return s.tc.Recall("consent:" + name)
}

func (s *consentSteps) correlationID(name string) (string, error) {
	return s.tc.Recall("correlation:" + name)
}

func (s *consentSteps) requestBody(recipient, docType, correlation string) (map[string]any, error) {
	addr, err := s.tc.AddressOf(recipient)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"recipient":      addr.String(),
		"document_hash":  "sha256:" + docType + ":" + correlation,
		"document_type":  s.docType(docType),
		"correlation_id": correlation,
	}, nil
}

func (s *consentSteps) requestConsent(ctx context.Context, name, recipient, docType string) error {
	correlation := id.NewCorrelationID().String()
	body, err := s.requestBody(recipient, docType, correlation)
	if err != nil {
		return err
	}
	if err := s.tc.POST("/consents", body); err != nil {
		return err
	}
	s.tc.Remember("correlation:"+name, correlation)
	s.tc.Remember("doctype:"+name, docType)
	return s.saveConsentID(name)
}

func (s *consentSteps) repeatRequest(ctx context.Context, name string) error {
	correlation, err := s.correlationID(name)
	if err != nil {
		return err
	}
	docType, err := s.tc.Recall("doctype:" + name)
	if err != nil {
		return err
	}
	// Recipient does not matter for a replay; the stored outcome wins.
	body, err := s.requestBody("bob", docType, correlation)
	if err != nil {
		return err
	}
	return s.tc.POST("/consents", body)
}

func (s *consentSteps) requestWithIdempotencyKey(ctx context.Context, recipient, name string) error {
	correlation, err := s.correlationID(name)
	if err != nil {
		return err
	}
	body, err := s.requestBody(recipient, "replay", id.NewCorrelationID().String())
	if err != nil {
		return err
	}
	return s.tc.POSTWithHeaders("/consents", body, map[string]string{"Idempotency-Key": correlation})
}

// saveConsentID records the consent id of a confirmed request. A timed-out
// request has no consent body yet, which fails the step.
func (s *consentSteps) saveConsentID(name string) error {
	if status := s.tc.GetLastResponseStatus(); status != 201 && status != 200 {
		return nil
	}
	v, err := s.tc.GetResponseField("consent.id")
	if err != nil {
		return fmt.Errorf("request for %s not confirmed: %w", name, err)
	}
	s.tc.Remember("consent:"+name, fmt.Sprint(v))
	return nil
}

func (s *consentSteps) grantConsent(ctx context.Context, name, permissions string, days int) error {
	return s.grant(name, map[string]any{
		"permissions":     splitList(permissions),
		"expires_in_days": days,
	})
}

func (s *consentSteps) grantConsentUntil(ctx context.Context, name, permissions, expiresAt string) error {
	return s.grant(name, map[string]any{
		"permissions": splitList(permissions),
		"expires_at":  expiresAt,
	})
}

func (s *consentSteps) grant(name string, body map[string]any) error {
	consentID, err := s.consentID(name)
	if err != nil {
		return err
	}
	body["correlation_id"] = id.NewCorrelationID().String()
	return s.tc.POST("/consents/"+consentID+"/grant", body)
}

func (s *consentSteps) revokeConsent(ctx context.Context, name string) error {
	consentID, err := s.consentID(name)
	if err != nil {
		return err
	}
	return s.tc.POST("/consents/"+consentID+"/revoke", map[string]any{
		"correlation_id": id.NewCorrelationID().String(),
	})
}

func (s *consentSteps) bulkRevoke(ctx context.Context, names string) error {
	var ids []string
	for _, name := range splitList(names) {
		consentID, err := s.consentID(name)
		if err != nil {
			return err
		}
		ids = append(ids, consentID)
	}
	return s.tc.POST("/consents/bulk-revoke", map[string]any{"consent_ids": ids})
}

func (s *consentSteps) viewConsent(ctx context.Context, name string) error {
	return s.getConsentPath(name, "/view")
}

func (s *consentSteps) checkAccess(ctx context.Context, name string) error {
	return s.getConsentPath(name, "/access")
}

func (s *consentSteps) getConsent(ctx context.Context, name string) error {
	return s.getConsentPath(name, "")
}

func (s *consentSteps) history(ctx context.Context, name string) error {
	return s.getConsentPath(name, "/history")
}

func (s *consentSteps) getConsentPath(name, suffix string) error {
	consentID, err := s.consentID(name)
	if err != nil {
		return err
	}
	return s.tc.GET("/consents/" + consentID + suffix)
}

func (s *consentSteps) pollSubmission(ctx context.Context, name string) error {
	correlation, err := s.correlationID(name)
	if err != nil {
		return err
	}
	return s.tc.GET("/submissions/" + correlation)
}

func (s *consentSteps) listAsRole(ctx context.Context, docType, role string) error {
	q := url.Values{}
	q.Set("document_type", s.docType(docType))
	q.Set("role", role)
	return s.tc.GET("/consents?" + q.Encode())
}

func (s *consentSteps) stats(ctx context.Context) error {
	return s.tc.GET("/consents/stats")
}

func (s *consentSteps) responseShouldReference(ctx context.Context, name string) error {
	consentID, err := s.consentID(name)
	if err != nil {
		return err
	}
	if !strings.Contains(string(s.tc.GetLastResponseBody()), consentID) {
		return fmt.Errorf("response does not mention consent %s (%s)", name, consentID)
	}
	return nil
}

func (s *consentSteps) responseShouldListN(ctx context.Context, n int) error {
	count, err := s.tc.GetResponseField("count")
	if err != nil {
		return err
	}
	if got, ok := count.(float64); !ok || int(got) != n {
		return fmt.Errorf("expected %d consents but got %v", n, count)
	}
	return nil
}

func (s *consentSteps) historyAtLeast(ctx context.Context, n int) error {
	events, err := s.tc.GetResponseField("events")
	if err != nil {
		return err
	}
	list, ok := events.([]any)
	if !ok || len(list) < n {
		return fmt.Errorf("expected at least %d events but got %v", n, events)
	}
	return nil
}

func (s *consentSteps) statAtLeast(ctx context.Context, field string, n int) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got, ok := v.(float64); !ok || int(got) < n {
		return fmt.Errorf("stats %s: expected at least %d but got %v", field, n, v)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
