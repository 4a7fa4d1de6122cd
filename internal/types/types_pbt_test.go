package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Only pending is a non-terminal status; every other string is either
// terminal or invalid.
func TestPropertyOnlyPendingIsOpen(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("non-terminal valid status is pending", prop.ForAll(
		func(s string) bool {
			status := ContributionStatus(s)
			if status.Valid() && !status.Terminal() {
				return status == StatusPending
			}
			return true
		},
		gen.OneGenOf(gen.AlphaString(), gen.OneConstOf("pending", "accepted", "rejected")),
	))

	properties.TestingRun(t)
}
