package access

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
)

func genRecord() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(models.StatusPending, models.StatusGranted, models.StatusRevoked),
		gen.Bool(),
		gen.Int64Range(-72, 72),
		gen.Bool(),
	).Map(func(vals []any) *models.Record {
		if vals[3].(bool) {
			return nil
		}
		rec := &models.Record{
			Sender:      alice,
			Recipient:   bob,
			Status:      vals[0].(models.Status),
			CreatedAt:   start,
			Permissions: models.Permissions{models.PermissionRead},
		}
		if vals[1].(bool) {
			e := start.Add(time.Duration(vals[2].(int64)) * time.Hour)
			rec.ExpiresAt = &e
		}
		return rec
	})
}

func genIdentity() gopter.Gen {
	return gen.OneConstOf(alice, bob, carol, id.Address(""))
}

func genNow() gopter.Gen {
	return gen.Int64Range(-96, 96).Map(func(h int64) time.Time {
		return start.Add(time.Duration(h) * time.Hour)
	})
}

// TestCanViewIsPure verifies identical inputs always yield identical decisions.
// Property: CanView(r, u, t) == CanView(r, u, t)
func TestCanViewIsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("CanView is deterministic", prop.ForAll(
		func(rec *models.Record, who id.Address, now time.Time) bool {
			before := rec.Clone()
			a := CanView(rec, who, now)
			b := CanView(rec, who, now)
			if a.Allowed != b.Allowed || a.Reason != b.Reason || len(a.Permissions) != len(b.Permissions) {
				return false
			}
			return reflect.DeepEqual(before, rec)
		},
		genRecord(), genIdentity(), genNow(),
	))

	properties.TestingRun(t)
}

// TestCanViewAllowsOnlyActiveParticipants checks the allow case is exactly
// "participant of a granted, unexpired record".
func TestCanViewAllowsOnlyActiveParticipants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("allowed iff participant and active", prop.ForAll(
		func(rec *models.Record, who id.Address, now time.Time) bool {
			d := CanView(rec, who, now)
			want := rec != nil && rec.IsParticipant(who) && rec.IsActive(now)
			return d.Allowed == want
		},
		genRecord(), genIdentity(), genNow(),
	))

	properties.Property("granted with past expiry is denied as expired", prop.ForAll(
		func(rec *models.Record, now time.Time) bool {
			if rec == nil || rec.Status != models.StatusGranted || rec.ExpiresAt == nil || !now.After(*rec.ExpiresAt) {
				return true
			}
			return CanView(rec, bob, now).Reason == ReasonExpired
		},
		genRecord(), genNow(),
	))

	properties.TestingRun(t)
}
