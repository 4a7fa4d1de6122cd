// Package service holds the contribution lifecycle engine and the
// application services the HTTP API delegates to.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
)

// maxAccuracy is a hard ceiling on model accuracy, in percent
const maxAccuracy = 99.9

// Notifier publishes entity changes to connected clients
type Notifier interface {
	BroadcastModelUpdate(m *models.Model)
	BroadcastActivity(a *models.Activity)
	// BroadcastContribution sends the contribution followed by recomputed stats
	BroadcastContribution(ctx context.Context, c *models.Contribution)
	BroadcastStats(ctx context.Context)
	NotifyUserTokens(userID int64, tokens int)
}

// NopNotifier discards every notification
type NopNotifier struct{}

func (NopNotifier) BroadcastModelUpdate(*models.Model) {}
func (NopNotifier) BroadcastActivity(*models.Activity) {}
func (NopNotifier) BroadcastContribution(context.Context, *models.Contribution) {}
func (NopNotifier) BroadcastStats(context.Context) {}
func (NopNotifier) NotifyUserTokens(int64, int) {}

// Rand is the randomness source for rewards and improvements
type Rand interface {
	// Float64 returns a value in [0, 1)
	Float64() float64
	// IntN returns a value in [0, n)
	IntN(n int) int
}

// globalRand uses the auto-seeded, goroutine-safe top-level source
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// DefaultRand returns the process-wide random source
func DefaultRand() Rand {
	return globalRand{}
}

// sampleImprovement returns a value in [0, upper)
func sampleImprovement(r Rand, upper float64) float64 {
	return r.Float64() * upper
}

// sampleReward returns an integer in [lo, hi]
func sampleReward(r Rand, lo, hi int) int {
	return lo + r.IntN(hi-lo+1)
}

// parseAccuracy reads a percentage string such as "96.8%"
func parseAccuracy(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid accuracy %q: %w", s, err)
	}
	return v, nil
}

// improveAccuracy adds improvement to current, clamps at the ceiling and
// formats with one decimal
func improveAccuracy(current, improvement float64) string {
	next := math.Min(maxAccuracy, current+improvement)
	// rounding to one decimal must not push past the ceiling
	next = math.Min(maxAccuracy, math.Round(next*10)/10)
	return fmt.Sprintf("%.1f%%", next)
}

func formatPercent(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64) + "%"
}

// notFound translates a storage miss into the API taxonomy
func notFound(err error, resource string, id interface{}) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(resource, id)
	}
	return apperrors.NewInternalError(fmt.Sprintf("failed to load %s", strings.ToLower(resource)), err)
}

// accuracyBump derives the model update for an improvement applied to the
// live accuracy. The resulting accuracy is written to *newAccuracy.
func accuracyBump(improvement float64, code *string, newAccuracy *string) storage.ModelDeriver {
	return func(m models.Model) (models.ModelUpdate, error) {
		current, err := parseAccuracy(m.CurrentAccuracy)
		if err != nil {
			return models.ModelUpdate{}, err
		}
		next := improveAccuracy(current, improvement)
		previous := m.CurrentAccuracy
		*newAccuracy = next
		return models.ModelUpdate{
			Code:             code,
			PreviousAccuracy: &previous,
			CurrentAccuracy:  &next,
		}, nil
	}
}
