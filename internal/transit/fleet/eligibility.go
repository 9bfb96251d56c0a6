package fleet

import (
	"strings"
	"time"

	"github.com/autopeer-io/transitlive/internal/transit/model"
)

// DefaultRecencyWindow is how old a position may be for the vehicle to be shown as live.
const DefaultRecencyWindow = 5 * time.Minute

// Eligibility is the decision whether a vehicle belongs in the canonical
// view, with each input named.
type Eligibility struct {
	DriverAssigned bool `json:"driverAssigned"`
	Active         bool `json:"active"`
	Recent         bool `json:"recent"`
}

// EligibilityOf evaluates v at now. A timestamp in the future counts as recent.
func EligibilityOf(v model.VehicleState, now time.Time, window time.Duration) Eligibility {
	return Eligibility{
		DriverAssigned: v.DriverID != "",
		Active:         v.IsActive,
		Recent:         !v.LastUpdateAt.IsZero() && now.Sub(v.LastUpdateAt) <= window,
	}
}

func (e Eligibility) Eligible() bool {
	return e.DriverAssigned && e.Active && e.Recent
}

// Reason lists the failed inputs, or returns "" when eligible.
func (e Eligibility) Reason() string {
	var reasons []string
	if !e.DriverAssigned {
		reasons = append(reasons, "no driver assigned")
	}
	if !e.Active {
		reasons = append(reasons, "inactive")
	}
	if !e.Recent {
		reasons = append(reasons, "position not recent")
	}
	return strings.Join(reasons, ", ")
}
