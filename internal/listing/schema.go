package listing

import (
	"fmt"

	"listing-wizard/internal/wizard"
)

type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTextList
	KindPhone
)

// Source is one place a column value may come from.
type Source struct {
	Name string
	Get  func(wizard.State) any
}

// FromStep reads a field of a step record.
func FromStep(step wizard.Step, field string) Source {
	return Source{
		Name: fmt.Sprintf("step%d.%s", step, field),
		Get: func(s wizard.State) any {
			return s.Step(step)[field]
		},
	}
}

// FromMeta reads a top-level wizard field.
func FromMeta(name string, get func(wizard.Meta) any) Source {
	return Source{
		Name: "meta." + name,
		Get: func(s wizard.State) any {
			return get(s.Meta)
		},
	}
}

// Default always yields v.
func Default(v any) Source {
	return Source{
		Name: fmt.Sprintf("default(%v)", v),
		Get:  func(wizard.State) any { return v },
	}
}

// Field declares how one column is resolved: the first source with a
// non-empty value wins, then the value is coerced to Kind.
type Field struct {
	Column  string
	Kind    Kind
	Sources []Source
}

func field(column string, kind Kind, sources ...Source) Field {
	return Field{Column: column, Kind: kind, Sources: sources}
}

var (
	metaCity        = FromMeta("city", func(m wizard.Meta) any { return m.City })
	metaSellerPrice = FromMeta("seller_price", func(m wizard.Meta) any { return m.SellerPrice })
	metaKeyFeatures = FromMeta("key_features", func(m wizard.Meta) any { return m.KeyFeatures })
	metaLatitude    = FromMeta("location.latitude", func(m wizard.Meta) any {
		if m.Location == nil {
			return nil
		}
		return m.Location.Latitude
	})
	metaLongitude = FromMeta("location.longitude", func(m wizard.Meta) any {
		if m.Location == nil {
			return nil
		}
		return m.Location.Longitude
	})
)

const (
	basics    = wizard.StepVehicleBasics
	ownership = wizard.StepOwnership
	condition = wizard.StepCondition
	pricing   = wizard.StepPricing
	seller    = wizard.StepSellerDetails
	identity  = wizard.StepIdentity
)

// Column names the assembler and validators refer to directly.
const (
	ColSubmissionID    = "submission_id"
	ColPhotos          = "photos"
	ColNationalID      = "national_id"
	ColPAN             = "pan_number"
	ColTermsAccepted   = "terms_accepted"
	ColPrivacyAccepted = "privacy_accepted"
	ColDocumentsAgreed = "documents_agreed"
)

var baseFields = []Field{
	field("brand", KindText, FromStep(basics, "brand"), FromStep(basics, "make")),
	field("model", KindText, FromStep(basics, "model")),
	field("variant", KindText, FromStep(basics, "variant")),
	field("year", KindInt, FromStep(basics, "year"), FromStep(basics, "manufacturing_year"), FromStep(ownership, "registration_year")),
	field("fuel_type", KindText, FromStep(basics, "fuel_type"), FromStep(basics, "fuel"), Default("Petrol")),
	field("cc", KindInt, FromStep(basics, "cc"), FromStep(basics, "engine_cc")),
	field("color", KindText, FromStep(basics, "color"), FromStep(basics, "colour")),
	field("registration_number", KindText, FromStep(basics, "registration_number"), FromStep(ownership, "registration_number")),
	field("registration_state", KindText, FromStep(ownership, "registration_state"), FromStep(basics, "registration_state")),
	field("kms_driven", KindInt, FromStep(ownership, "kms_driven"), FromStep(basics, "kms_driven"), Default(0)),
	field("owners", KindInt, FromStep(ownership, "owners"), FromStep(ownership, "ownership"), Default(1)),
	field("insurance_type", KindText, FromStep(ownership, "insurance_type")),
	field("insurance_valid_till", KindText, FromStep(ownership, "insurance_valid_till")),
	field("accident_history", KindBool, FromStep(condition, "accident_history"), Default(false)),
	field("service_history", KindBool, FromStep(condition, "service_history")),
	field("condition_rating", KindInt, FromStep(condition, "condition_rating"), FromStep(condition, "overall_condition")),
	field("tyre_condition", KindText, FromStep(condition, "tyre_condition")),
	field("expected_price", KindFloat, FromStep(pricing, "expected_price"), metaSellerPrice),
	field("negotiable", KindBool, FromStep(pricing, "negotiable"), Default(false)),
	field("key_features", KindTextList, metaKeyFeatures, FromStep(pricing, "key_features")),
	field("description", KindText, FromStep(pricing, "description")),
	field("seller_name", KindText, FromStep(seller, "seller_name"), FromStep(seller, "name")),
	field("seller_phone", KindPhone, FromStep(seller, "phone"), FromStep(seller, "seller_phone")),
	field("seller_email", KindText, FromStep(seller, "email")),
	field("city", KindText, FromStep(seller, "city"), metaCity),
	field("pincode", KindText, FromStep(seller, "pincode")),
	field("address", KindText, FromStep(seller, "address")),
	field("latitude", KindFloat, metaLatitude),
	field("longitude", KindFloat, metaLongitude),
	field(ColNationalID, KindText, FromStep(identity, ColNationalID)),
	field(ColPAN, KindText, FromStep(identity, ColPAN)),
	field(ColTermsAccepted, KindBool, FromStep(identity, ColTermsAccepted), Default(false)),
	field(ColPrivacyAccepted, KindBool, FromStep(identity, ColPrivacyAccepted), Default(false)),
	field(ColDocumentsAgreed, KindBool, FromStep(identity, ColDocumentsAgreed), Default(false)),
	field("status", KindText, Default("pending")),
}

var carFields = []Field{
	field("transmission", KindText, FromStep(basics, "transmission"), FromStep(condition, "transmission")),
	field("body_type", KindText, FromStep(basics, "body_type")),
	field("airbags", KindInt, FromStep(condition, "airbags"), FromStep(basics, "airbags")),
	field("cylinders", KindInt, FromStep(basics, "cylinders")),
	field("wheel_drive", KindText, FromStep(basics, "wheel_drive"), FromStep(basics, "drive_type")),
	field("gncap_rating", KindInt, FromStep(condition, "gncap_rating"), FromStep(condition, "safety_rating")),
}

var bikeFields = []Field{
	field("bike_type", KindText, FromStep(basics, "bike_type")),
	field("start_type", KindText, FromStep(basics, "start_type")),
	field("abs", KindBool, FromStep(basics, "abs"), FromStep(condition, "abs")),
	field("battery_health", KindInt, FromStep(condition, "battery_health")),
}

// Schema is the column layout of one listing table.
type Schema struct {
	Vehicle         wizard.VehicleType
	Table           string
	Fields          []Field
	PhotoCategories []string
}

var (
	CarSchema = Schema{
		Vehicle:         wizard.VehicleCar,
		Table:           "car_seller_listings",
		Fields:          concat(baseFields, carFields),
		PhotoCategories: []string{"exterior", "interior", "tyres", "features", "defects"},
	}
	BikeSchema = Schema{
		Vehicle:         wizard.VehicleBike,
		Table:           "bike_seller_listings",
		Fields:          concat(baseFields, bikeFields),
		PhotoCategories: []string{"front", "rear", "left", "right", "defects"},
	}
)

// SchemaFor selects the layout for a vehicle type.
func SchemaFor(v wizard.VehicleType) (*Schema, error) {
	switch v {
	case wizard.VehicleCar:
		return &CarSchema, nil
	case wizard.VehicleBike:
		return &BikeSchema, nil
	default:
		return nil, ErrUnknownVehicleType
	}
}

// Columns lists every column written by an insert, in a stable order.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+2)
	cols = append(cols, ColSubmissionID)
	for _, f := range s.Fields {
		cols = append(cols, f.Column)
	}
	return append(cols, ColPhotos)
}

func concat(parts ...[]Field) []Field {
	var out []Field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
