package record

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalLiftsKnownFields(t *testing.T) {
	payload := `{
		"Document Number": "EQJOB62",
		"Equipment": "Main spring",
		"Overall Job Status": "Not Started",
		"Scheduled Maintenance Date": "11/01/2024",
		"Line ID": 3,
		"Urgent": true
	}`

	var r RawRecord
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if r.DocumentNumber != "EQJOB62" || r.Equipment != "Main spring" || r.Status != "Not Started" {
		t.Errorf("known fields not lifted: %+v", r)
	}
	if len(r.Extra) != 2 {
		t.Errorf("expected 2 extra fields, got %v", r.Extra)
	}
}

func TestFieldCoversExtrasAndStringifies(t *testing.T) {
	var r RawRecord
	if err := json.Unmarshal([]byte(`{"Document Number":"EQJOB1","Line ID":3,"Urgent":true}`), &r); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got := r.Field("Line ID"); got != "3" {
		t.Errorf("expected numeric extra as \"3\", got %q", got)
	}
	if got := r.Field("Urgent"); got != "true" {
		t.Errorf("expected boolean extra as \"true\", got %q", got)
	}
	if got := r.Field("Missing"); got != "" {
		t.Errorf("expected empty for unknown field, got %q", got)
	}
}

func TestMarshalRoundTripsFieldNames(t *testing.T) {
	r := RawRecord{
		DocumentNumber: "EQJOB1",
		Status:         "Started",
		Extra:          map[string]any{"Location": "Plant 2"},
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fields[FieldDocumentNumber] != "EQJOB1" || fields[FieldStatus] != "Started" || fields["Location"] != "Plant 2" {
		t.Errorf("remote field names not preserved: %v", fields)
	}
	if _, present := fields[FieldEquipment]; present {
		t.Errorf("empty fields must be omitted")
	}
}
