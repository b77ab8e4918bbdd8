// Package telemetry integrates the coin-box collaborator: per-car
// throttle/payment snapshots polled over HTTP plus the persistent
// credit accounting that survives device counter resets.
package telemetry

import (
	"context"

	"github.com/slotracer/slotman/pkg/model"
)

// Client is the face of the coin-box/throttle collaborator.
// Car ids are 1-based.
type Client interface {
	// Cars streams the latest per-car snapshots.
	Cars() <-chan []model.CarTelemetry
	// Credits returns the persistent count of unconsumed paid
	// entries; > 0 implies "has paid".
	Credits(carID int) int

	BlockCar(ctx context.Context, carID int, blocked bool) error
	ResetCarToNormal(ctx context.Context, carID int) error
	MarkCoinsAsConsumed(ctx context.Context, carIDs []int) error
}
