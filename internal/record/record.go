// Package record defines the line-item data model delivered by the remote
// ERP endpoint. Records arrive as free-form JSON objects keyed by display
// field names; the well-known fields are lifted into struct fields and
// everything else is kept in Extra.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known remote field names.
const (
	FieldDocumentNumber = "Document Number"
	FieldItem           = "Item"
	FieldEquipment      = "Equipment"
	FieldCustomer       = "Customer Name"
	FieldStatus         = "Overall Job Status"
	FieldScheduledDate  = "Scheduled Maintenance Date"
	FieldCompletionDate = "Maintenance Completion Date"
	FieldTechnician     = "Assigned Technician"
)

// RawRecord is one line item as delivered by the remote source.
type RawRecord struct {
	DocumentNumber string
	Item           string
	Equipment      string
	Customer       string
	Status         string
	ScheduledDate  string
	CompletionDate string
	Technician     string
	Extra          map[string]any
}

// Key returns the document key. Empty means the record cannot be grouped
// or consolidated and only appears in raw views.
func (r RawRecord) Key() string {
	return r.DocumentNumber
}

// Field returns the value of a named field as a string, covering both the
// well-known fields and anything carried in Extra. Unknown fields return "".
func (r RawRecord) Field(name string) string {
	switch name {
	case FieldDocumentNumber:
		return r.DocumentNumber
	case FieldItem:
		return r.Item
	case FieldEquipment:
		return r.Equipment
	case FieldCustomer:
		return r.Customer
	case FieldStatus:
		return r.Status
	case FieldScheduledDate:
		return r.ScheduledDate
	case FieldCompletionDate:
		return r.CompletionDate
	case FieldTechnician:
		return r.Technician
	}
	if v, ok := r.Extra[name]; ok {
		return stringify(v)
	}
	return ""
}

func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = RawRecord{}
	for name, value := range fields {
		switch name {
		case FieldDocumentNumber:
			r.DocumentNumber = stringify(value)
		case FieldItem:
			r.Item = stringify(value)
		case FieldEquipment:
			r.Equipment = stringify(value)
		case FieldCustomer:
			r.Customer = stringify(value)
		case FieldStatus:
			r.Status = stringify(value)
		case FieldScheduledDate:
			r.ScheduledDate = stringify(value)
		case FieldCompletionDate:
			r.CompletionDate = stringify(value)
		case FieldTechnician:
			r.Technician = stringify(value)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[name] = value
		}
	}
	return nil
}

func (r RawRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}

// Fields flattens the record back into the remote field-name shape.
func (r RawRecord) Fields() map[string]any {
	fields := make(map[string]any, len(r.Extra)+8)
	for name, value := range r.Extra {
		fields[name] = value
	}
	setIfPresent(fields, FieldDocumentNumber, r.DocumentNumber)
	setIfPresent(fields, FieldItem, r.Item)
	setIfPresent(fields, FieldEquipment, r.Equipment)
	setIfPresent(fields, FieldCustomer, r.Customer)
	setIfPresent(fields, FieldStatus, r.Status)
	setIfPresent(fields, FieldScheduledDate, r.ScheduledDate)
	setIfPresent(fields, FieldCompletionDate, r.CompletionDate)
	setIfPresent(fields, FieldTechnician, r.Technician)
	return fields
}

func setIfPresent(fields map[string]any, name, value string) {
	if value != "" {
		fields[name] = value
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Page is the normalized result of one remote page fetch.
type Page struct {
	Records []RawRecord
	// ExplicitHasMore carries the server's hasNextPage flag when the
	// response shape includes one; nil means the caller must infer from
	// the record count.
	ExplicitHasMore *bool
}
