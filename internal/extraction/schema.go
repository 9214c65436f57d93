package extraction

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed invoice_schema.json
var invoiceSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

// FieldError is a single schema violation at a specific field path.
type FieldError struct {
	Field   string
	Message string
}

// SchemaValidationError reports every violation found in a provider's
// response payload.
type SchemaValidationError struct {
	Errors []FieldError
}

func (e *SchemaValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("extraction payload failed schema validation:")
	for _, fe := range e.Errors {
		sb.WriteString(fmt.Sprintf(" %s: %s;", fe.Field, fe.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// ValidatePayload checks raw provider JSON against the invoice extraction
// schema.
func ValidatePayload(raw string) error {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(invoiceSchemaJSON))
	})
	if schemaErr != nil {
		return fmt.Errorf("failed to load invoice schema: %w", schemaErr)
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("parse extraction JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	verr := &SchemaValidationError{}
	for _, re := range result.Errors() {
		verr.Errors = append(verr.Errors, FieldError{
			Field:   re.Field(),
			Message: re.Description(),
		})
	}
	return verr
}
