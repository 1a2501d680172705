package reconciler

import (
	"context"
	"fmt"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// AwayReconciler implements §4.G's away derivation: fold every owned
// device's reported away state into one summary, then upsert that summary
// onto every owned device's user object.
type AwayReconciler struct {
	store    stateStore
	resolver OwnershipResolver
	logger   *logging.Logger
}

func NewAwayReconciler(store stateStore, resolver OwnershipResolver, logger *logging.Logger) *AwayReconciler {
	return &AwayReconciler{store: store, resolver: resolver, logger: logger}
}

type awaySummary struct {
	allAway                    bool
	vacationMode               bool
	haveAwayTimestamp          bool
	mostRecentAwayTimestamp    float64
	haveManualAwayTimestamp    bool
	mostRecentManualAwayTimestamp float64
	awaySetter                 string
}

// ReconcileUser recomputes userID's away summary from every device it owns
// or is shared, and writes it back onto each of those devices.
func (r *AwayReconciler) ReconcileUser(ctx context.Context, userID string) error {
	serials, err := r.resolver.SerialsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("reconciler: away: load device set: %w", err)
	}
	if len(serials) == 0 {
		return nil
	}

	summary, err := r.fold(ctx, serials)
	if err != nil {
		return err
	}

	fields := map[string]objectstore.Value{
		"away":         objectstore.BoolValue(summary.allAway),
		"vacation_mode": objectstore.BoolValue(summary.vacationMode),
	}
	if summary.haveAwayTimestamp {
		fields["away_timestamp"] = objectstore.NumberValue(summary.mostRecentAwayTimestamp)
	}
	if summary.haveManualAwayTimestamp {
		fields["manual_away_timestamp"] = objectstore.NumberValue(summary.mostRecentManualAwayTimestamp)
		fields["away_setter"] = objectstore.StringValue(summary.awaySetter)
	}
	patch := objectstore.ObjectValue(fields)

	userObjectKey := "user." + userID
	for _, serial := range serials {
		revision, err := nextRevision(ctx, r.store, serial, userObjectKey)
		if err != nil {
			if r.logger != nil {
				r.logger.Error("reconciler: away: read revision", "serial", serial, "user_id", userID, "error", err)
			}
			continue
		}
		if _, err := r.store.Upsert(ctx, serial, userObjectKey, revision, 0, patch); err != nil {
			if r.logger != nil {
				r.logger.Error("reconciler: away: write user object", "serial", serial, "user_id", userID, "error", err)
			}
		}
	}

	return nil
}

func (r *AwayReconciler) fold(ctx context.Context, serials []string) (awaySummary, error) {
	var summary awaySummary
	reported := 0
	allAway := true

	for _, serial := range serials {
		device, err := deviceObject(ctx, r.store, serial)
		if err != nil {
			return awaySummary{}, fmt.Errorf("reconciler: away: read device %s: %w", serial, err)
		}
		away, ok := boolField(device, "away")
		if ok {
			reported++
			if !away {
				allAway = false
			}
		}

		if vac, ok := boolField(device, "vacation_mode"); ok && vac {
			summary.vacationMode = true
		}

		if ts, ok := numberField(device, "away_timestamp"); ok {
			if !summary.haveAwayTimestamp || ts > summary.mostRecentAwayTimestamp {
				summary.haveAwayTimestamp = true
				summary.mostRecentAwayTimestamp = ts
			}
		}

		if ts, ok := numberField(device, "manual_away_timestamp"); ok {
			if !summary.haveManualAwayTimestamp || ts > summary.mostRecentManualAwayTimestamp {
				summary.haveManualAwayTimestamp = true
				summary.mostRecentManualAwayTimestamp = ts
				summary.awaySetter, _ = stringField(device, "away_setter")
			}
		}
	}

	summary.allAway = reported > 0 && allAway
	return summary, nil
}
