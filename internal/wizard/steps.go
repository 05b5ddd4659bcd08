package wizard

import "fmt"

// Step is the 1-based index of a wizard screen.
type Step int

const (
	StepVehicleBasics Step = iota + 1
	StepOwnership
	StepCondition
	StepPricing
	StepSellerDetails
	StepIdentity
)

// StepCount is the number of wizard screens.
const StepCount = 6

var stepLabels = map[Step]string{
	StepVehicleBasics: "vehicle_basics",
	StepOwnership:     "ownership",
	StepCondition:     "condition",
	StepPricing:       "pricing",
	StepSellerDetails: "seller_details",
	StepIdentity:      "identity",
}

func (s Step) Valid() bool {
	return s >= StepVehicleBasics && s <= StepIdentity
}

func (s Step) String() string {
	if l, ok := stepLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("step_%d", int(s))
}

// Steps returns every step in wizard order.
func Steps() []Step {
	out := make([]Step, 0, StepCount)
	for s := StepVehicleBasics; s <= StepIdentity; s++ {
		out = append(out, s)
	}
	return out
}

type VehicleType string

const (
	VehicleCar  VehicleType = "car"
	VehicleBike VehicleType = "bike"
)

func (v VehicleType) Valid() bool {
	return v == VehicleCar || v == VehicleBike
}

// ParseVehicleType accepts the two known types, case sensitive.
func ParseVehicleType(s string) (VehicleType, error) {
	v := VehicleType(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown vehicle type %q", s)
	}
	return v, nil
}

// Fields blurred on the identity step are persisted immediately.
const (
	FieldNationalID = "national_id"
	FieldPAN        = "pan_number"
)

// IsIdentityField reports whether a field is snapshotted on blur.
func IsIdentityField(field string) bool {
	return field == FieldNationalID || field == FieldPAN
}
