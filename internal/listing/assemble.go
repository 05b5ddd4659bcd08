package listing

import (
	"github.com/google/uuid"

	"listing-wizard/internal/wizard"
)

// Listing is one assembled row for the table of its schema.
type Listing struct {
	Schema       *Schema
	SubmissionID string
	Values       map[string]any
}

func (l *Listing) Vehicle() wizard.VehicleType {
	return l.Schema.Vehicle
}

func (l *Listing) Table() string {
	return l.Schema.Table
}

// Columns are the insert columns in schema order.
func (l *Listing) Columns() []string {
	return l.Schema.Columns()
}

// Args returns the values matching Columns.
func (l *Listing) Args() []any {
	cols := l.Columns()
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = l.Values[c]
	}
	return args
}

// Has reports whether the row carries column at all, even as NULL.
func (l *Listing) Has(column string) bool {
	_, ok := l.Values[column]
	return ok
}

type Assembler struct {
	newID func() string
}

func NewAssembler() *Assembler {
	return &Assembler{newID: uuid.NewString}
}

// Assemble builds and validates the row for the state's vehicle type.
// It never performs I/O.
func (a *Assembler) Assemble(state wizard.State) (*Listing, error) {
	schema, err := SchemaFor(state.VehicleType)
	if err != nil {
		return nil, err
	}

	values := Resolve(schema.Fields, state)

	nationalID, _ := values[ColNationalID].(string)
	nationalID = NormalizeNationalID(nationalID)
	pan, _ := values[ColPAN].(string)
	pan = NormalizePAN(pan)
	if err := ValidateIdentity(nationalID, pan); err != nil {
		return nil, err
	}
	values[ColNationalID] = nullIfEmpty(nationalID)
	values[ColPAN] = nullIfEmpty(pan)

	if err := ValidateConsents(values); err != nil {
		return nil, err
	}
	if err := ValidateRanges(schema.Fields, values); err != nil {
		return nil, err
	}

	id := a.newID()
	values[ColSubmissionID] = id
	values[ColPhotos] = ReshapePhotos(state.Photos, schema.PhotoCategories)

	return &Listing{
		Schema:       schema,
		SubmissionID: id,
		Values:       values,
	}, nil
}

// Resolve computes every field value from state. Columns with no usable
// source are present with a nil value.
func Resolve(fields []Field, state wizard.State) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Column] = resolveField(f, state)
	}
	return out
}

func resolveField(f Field, state wizard.State) any {
	for _, src := range f.Sources {
		v := src.Get(state)
		if isEmpty(v) {
			continue
		}
		return coerce(f.Kind, v)
	}
	return nil
}

func coerce(kind Kind, v any) any {
	switch kind {
	case KindInt:
		if n, ok := ToInt(v); ok {
			return n
		}
	case KindFloat:
		if f, ok := ToFloat(v); ok {
			return f
		}
	case KindBool:
		if b, ok := ToBool(v); ok {
			return b
		}
	case KindTextList:
		if l, ok := ToTextList(v); ok {
			return l
		}
	case KindPhone:
		if s, ok := ToText(v); ok {
			return NormalizePhoneNumber(s)
		}
	default:
		if s, ok := ToText(v); ok {
			return s
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
