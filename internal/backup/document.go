package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"print-marketplace/internal/models"
)

// Top-level document keys
const (
	FieldUsers    = "users"
	FieldProducts = "products"
	FieldOrders   = "orders"
	FieldSettings = "settings"
)

// RequiredFields must be present as arrays in every document
var RequiredFields = []string{FieldUsers, FieldProducts, FieldOrders}

// Collections lists every collection of a document in export order
var Collections = []string{FieldUsers, FieldProducts, FieldOrders, FieldSettings}

// Document is a full image of the four marketplace tables. JSON list columns
// travel in their stored text form.
type Document struct {
	Users    []models.User     `json:"users"`
	Products []models.Product  `json:"products"`
	Orders   []models.Order    `json:"orders"`
	Settings []models.Settings `json:"settings"`
}

// Summary counts the records in the document
func (d *Document) Summary() Summary {
	return Summary{
		Users:    len(d.Users),
		Products: len(d.Products),
		Orders:   len(d.Orders),
		Settings: len(d.Settings),
	}
}

// Marshal encodes the document. Nil collections are written as empty arrays.
func (d *Document) Marshal() ([]byte, error) {
	out := *d
	if out.Users == nil {
		out.Users = []models.User{}
	}
	if out.Products == nil {
		out.Products = []models.Product{}
	}
	if out.Orders == nil {
		out.Orders = []models.Order{}
	}
	if out.Settings == nil {
		out.Settings = []models.Settings{}
	}
	return json.Marshal(out)
}

// ReadDocument parses a document from r
func ReadDocument(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewMalformedInputError("failed to read backup document", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses and validates a backup document.
//
// Invalid JSON yields a MALFORMED_INPUT error. Structural problems are
// collected for every field before failing, so a single VALIDATION_ERROR names
// all of them.
func ParseDocument(data []byte) (*Document, error) {
	if !json.Valid(data) {
		var probe interface{}
		cause := json.Unmarshal(data, &probe)
		return nil, NewMalformedInputError("backup file is not valid JSON", cause).WithPhase(PhaseReceived)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var problems ValidationErrors
		problems.Add("document", "backup must be a JSON object")
		return nil, NewValidationError(problems).WithPhase(PhaseReceived)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, NewMalformedInputError("backup file is not valid JSON", err).WithPhase(PhaseReceived)
	}

	var problems ValidationErrors
	for _, name := range RequiredFields {
		raw, ok := fields[name]
		switch {
		case !ok:
			problems.Add(name, "field is missing")
		case !isArray(raw):
			problems.Add(name, "field must be an array")
		}
	}
	if raw, ok := fields[FieldSettings]; ok && !isNull(raw) && !isArray(raw) {
		problems.Add(FieldSettings, "field must be an array when present")
	}
	if problems.HasErrors() {
		return nil, NewValidationError(problems).WithPhase(PhaseReceived)
	}

	doc := &Document{
		Users:    []models.User{},
		Products: []models.Product{},
		Orders:   []models.Order{},
		Settings: []models.Settings{},
	}
	decode := func(name string, dest interface{}) {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			return
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			problems.Add(name, fmt.Sprintf("invalid record: %v", err))
		}
	}
	decode(FieldUsers, &doc.Users)
	decode(FieldProducts, &doc.Products)
	decode(FieldOrders, &doc.Orders)
	decode(FieldSettings, &doc.Settings)

	if problems.HasErrors() {
		return nil, NewValidationError(problems).WithPhase(PhaseReceived)
	}
	return doc, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
