package validate

// FieldsError maps JSON field names to human-readable validation messages.
type FieldsError struct {
	Fields map[string]string `json:"fields"`
}

func NewFieldsError(fields map[string]string) *FieldsError {
	return &FieldsError{
		Fields: fields,
	}
}

func (f *FieldsError) Error() string {
	return "fields error"
}
