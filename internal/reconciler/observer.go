package reconciler

import (
	"context"
	"strings"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/devicestate"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
)

// Observer implements devicestate.Observer: on any `device.<serial>`
// change it reconciles away and weather state for every user who owns or
// is shared that serial, per §4.G's "on any device.«serial» change".
type Observer struct {
	resolver OwnershipResolver
	away     *AwayReconciler
	weather  *WeatherReconciler
	logger   *logging.Logger
}

func NewObserver(resolver OwnershipResolver, away *AwayReconciler, weather *WeatherReconciler, logger *logging.Logger) *Observer {
	return &Observer{resolver: resolver, away: away, weather: weather, logger: logger}
}

func (o *Observer) OnDeviceStateChange(ctx context.Context, change devicestate.Change) {
	if !strings.HasPrefix(change.ObjectKey, "device.") {
		return
	}

	users, err := o.resolver.UsersForSerial(ctx, change.Serial)
	if err != nil {
		if o.logger != nil {
			o.logger.Error("reconciler: resolve users for serial", "serial", change.Serial, "error", err)
		}
		return
	}

	for _, userID := range users {
		if err := o.away.ReconcileUser(ctx, userID); err != nil && o.logger != nil {
			o.logger.Error("reconciler: away reconcile", "user_id", userID, "serial", change.Serial, "error", err)
		}
		if err := o.weather.ReconcileUser(ctx, userID); err != nil && o.logger != nil {
			o.logger.Error("reconciler: weather reconcile", "user_id", userID, "serial", change.Serial, "error", err)
		}
	}
}
