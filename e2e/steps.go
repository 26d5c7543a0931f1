//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/device"
	memorymodels "keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
)

// RegisterSteps binds step text to the scenario's current TestContext.
func RegisterSteps(sc *godog.ScenarioContext, current func() *TestContext) {
	steps := &keepsakeSteps{current: current}

	// Background
	sc.Step(`^keepsake is running$`, steps.keepsakeIsRunning)
	sc.Step(`^I am a new subject in region "([^"]*)"$`, steps.newSubject)

	// Consent and memory
	sc.Step(`^I grant "([^"]*)" consent by "([^"]*)"$`, steps.grantConsent)
	sc.Step(`^I revoke "([^"]*)" consent$`, steps.revokeConsent)
	sc.Step(`^I read my "([^"]*)" consent$`, steps.readConsent)
	sc.Step(`^I write a "([^"]*)" memory about "([^"]*)"$`, steps.writeMemory)
	sc.Step(`^I list my memories$`, steps.listMemories)
	sc.Step(`^I read my audit log$`, steps.readAudit)
	sc.Step(`^I GET "([^"]*)" without authorization$`, steps.getWithoutAuth)

	// Device sync
	sc.Step(`^a device "([^"]*)" with a local replica$`, steps.openReplica)
	sc.Step(`^the device records "([^"]*)" consent and a memory about "([^"]*)"$`, steps.recordOnDevice)
	sc.Step(`^the device syncs$`, steps.deviceSyncs)
	sc.Step(`^the sync should succeed$`, steps.syncShouldSucceed)
	sc.Step(`^the sync should ship nothing$`, steps.syncShouldShipNothing)
	sc.Step(`^the central cursor should match the device$`, steps.centralCursorMatches)

	// Assertions
	sc.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	sc.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	sc.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
	sc.Step(`^the response should list (\d+) memory objects?$`, steps.responseShouldListObjects)
}

type keepsakeSteps struct {
	current func() *TestContext
}

func (s *keepsakeSteps) keepsakeIsRunning(_ context.Context) error {
	tc := s.current()
	if err := tc.GET("/health/live", nil); err != nil {
		return err
	}
	return expectStatus(tc, http.StatusOK)
}

func (s *keepsakeSteps) newSubject(ctx context.Context, region string) error {
	tc := s.current()
	tc.Subject = id.SubjectID(uuid.New())
	tc.Region = id.Region(region)
	token, err := tc.Tokens.Issue(ctx, tc.Subject, id.ActorSubject, tc.Region)
	if err != nil {
		return err
	}
	tc.Token = token
	return nil
}

func (s *keepsakeSteps) grantConsent(_ context.Context, consentType, method string) error {
	tc := s.current()
	return tc.POST("/v1/consents/"+consentType+"/grant", map[string]string{"method": method})
}

func (s *keepsakeSteps) revokeConsent(_ context.Context, consentType string) error {
	tc := s.current()
	return tc.POST("/v1/consents/"+consentType+"/revoke", map[string]string{})
}

func (s *keepsakeSteps) readConsent(_ context.Context, consentType string) error {
	tc := s.current()
	return tc.GET("/v1/consents/"+consentType, tc.authHeaders())
}

func (s *keepsakeSteps) writeMemory(_ context.Context, scope, topic string) error {
	tc := s.current()
	return tc.POST("/v1/memory", map[string]string{
		"scope":       scope,
		"content_ref": "e2e/" + uuid.NewString(),
		"topic":       topic,
	})
}

func (s *keepsakeSteps) listMemories(_ context.Context) error {
	tc := s.current()
	return tc.GET("/v1/memory", tc.authHeaders())
}

func (s *keepsakeSteps) readAudit(_ context.Context) error {
	tc := s.current()
	return tc.GET("/v1/audit", tc.authHeaders())
}

func (s *keepsakeSteps) getWithoutAuth(_ context.Context, path string) error {
	tc := s.current()
	return tc.GET(path, nil)
}

func (s *keepsakeSteps) openReplica(ctx context.Context, name string) error {
	tc := s.current()
	dir, err := os.MkdirTemp("", "keepsake-e2e-")
	if err != nil {
		return err
	}
	tc.ReplicaDir = dir
	deviceID := id.DeviceID(name + "-" + uuid.NewString()[:8])
	tc.Replica, err = device.Open(ctx, filepath.Join(dir, "replica.db"), deviceID, tc.Subject)
	return err
}

func (s *keepsakeSteps) recordOnDevice(ctx context.Context, consentType, topic string) error {
	tc := s.current()
	if tc.Replica == nil {
		return errors.New("no device replica open")
	}
	if _, err := tc.Replica.Consents().Grant(ctx, tc.Subject, consentmodels.Type(consentType), consentmodels.MethodTap, tc.Region, id.ActorSubject); err != nil {
		return fmt.Errorf("grant on device: %w", err)
	}
	if _, err := tc.Replica.Memory().Write(ctx, tc.Subject, memorymodels.ScopeUser, memorymodels.ConsentRef{}, "device/"+uuid.NewString(), topic); err != nil {
		return fmt.Errorf("write on device: %w", err)
	}
	return nil
}

func (s *keepsakeSteps) deviceSyncs(ctx context.Context) error {
	tc := s.current()
	if tc.Replica == nil {
		return errors.New("no device replica open")
	}
	tc.SyncResult, tc.SyncErr = tc.Replica.Sync(ctx, device.NewClient(tc.BaseURL, tc.Token))
	return nil
}

func (s *keepsakeSteps) syncShouldSucceed(_ context.Context) error {
	tc := s.current()
	if tc.SyncErr != nil {
		return fmt.Errorf("sync failed: %w", tc.SyncErr)
	}
	if tc.SyncResult.Batches == 0 {
		return errors.New("sync shipped no batch")
	}
	return nil
}

func (s *keepsakeSteps) syncShouldShipNothing(_ context.Context) error {
	tc := s.current()
	if tc.SyncErr != nil {
		return fmt.Errorf("sync failed: %w", tc.SyncErr)
	}
	if tc.SyncResult.Batches != 0 {
		return fmt.Errorf("sync shipped %d batches", tc.SyncResult.Batches)
	}
	return nil
}

func (s *keepsakeSteps) centralCursorMatches(ctx context.Context) error {
	tc := s.current()
	local, err := tc.Replica.Cursor(ctx)
	if err != nil {
		return err
	}
	central, err := device.NewClient(tc.BaseURL, tc.Token).Status(ctx, tc.Replica.Stream())
	if err != nil {
		return err
	}
	if central.LastSeq != local.LastSeq || central.LastHash != local.LastHash {
		return fmt.Errorf("central cursor %d/%s, device cursor %d/%s", central.LastSeq, central.LastHash, local.LastSeq, local.LastHash)
	}
	return nil
}

func (s *keepsakeSteps) responseStatusShouldBe(_ context.Context, want int) error {
	return expectStatus(s.current(), want)
}

func expectStatus(tc *TestContext, want int) error {
	if got := tc.LastStatus(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, string(tc.LastResponseBody))
	}
	return nil
}

func (s *keepsakeSteps) responseFieldShouldEqual(_ context.Context, field, want string) error {
	tc := s.current()
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != want {
		return fmt.Errorf("field %s = %q, want %q", field, got, want)
	}
	return nil
}

func (s *keepsakeSteps) responseShouldContain(_ context.Context, text string) error {
	tc := s.current()
	if !strings.Contains(string(tc.LastResponseBody), text) {
		return fmt.Errorf("response does not contain %q: %s", text, string(tc.LastResponseBody))
	}
	return nil
}

func (s *keepsakeSteps) responseShouldListObjects(_ context.Context, want int) error {
	tc := s.current()
	value, err := tc.GetResponseField("objects")
	if err != nil {
		return err
	}
	objects, ok := value.([]any)
	if !ok && value != nil {
		return fmt.Errorf("objects is %T, not a list", value)
	}
	if len(objects) != want {
		return fmt.Errorf("listed %d objects, want %d", len(objects), want)
	}
	return nil
}
