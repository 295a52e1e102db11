// Package schemas validates structured pipeline artifacts against their
// JSON Schemas before they are accepted into the artifact store.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed analysis.schema.json
var analysisSchema []byte

// ValidationError reports every field that failed validation.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is a single validation failure at one field path.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// ValidateAnalysis checks an analysis document against the analysis schema.
// A *ValidationError is returned when the document parses but does not
// conform.
func ValidateAnalysis(doc []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(analysisSchema)
	docLoader := gojsonschema.NewBytesLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("failed to validate analysis document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{}
	for _, desc := range result.Errors() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return ve
}
