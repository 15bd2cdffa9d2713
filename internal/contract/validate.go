package contract

import (
	"fmt"
	"regexp"
	"sort"
)

// FieldError describes one failed field validation. The enforcer converts
// these into contract violations.
type FieldError struct {
	Field    string      `json:"field"`
	Message  string      `json:"message"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
}

// ValidateFields checks a flat payload map against a set of field rules and
// returns the failures in deterministic field order. A type mismatch stops
// further checks for that field. This function never panics; unknown payload
// fields are ignored.
func ValidateFields(rules map[string]FieldRule, data map[string]interface{}) []FieldError {
	if len(rules) == 0 {
		return nil
	}

	fields := make([]string, 0, len(rules))
	for field := range rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var errs []FieldError
	for _, field := range fields {
		rule := rules[field]
		value, present := data[field]

		if !present || value == nil {
			if rule.Required {
				errs = append(errs, FieldError{
					Field:    field,
					Message:  fmt.Sprintf("required field %q is missing", field),
					Expected: rule.Type,
				})
			}
			continue
		}

		if !matchesType(rule.Type, value) {
			errs = append(errs, FieldError{
				Field:    field,
				Message:  fmt.Sprintf("field %q expected type %s", field, rule.Type),
				Expected: rule.Type,
				Actual:   fmt.Sprintf("%T", value),
			})
			continue
		}

		switch rule.Type {
		case "string":
			errs = append(errs, checkString(field, rule, value.(string))...)
		case "number":
			errs = append(errs, checkNumber(field, rule, toFloat(value))...)
		}

		if len(rule.Enum) > 0 && !inEnum(rule.Enum, value) {
			errs = append(errs, FieldError{
				Field:    field,
				Message:  fmt.Sprintf("field %q value is not one of the allowed values", field),
				Expected: rule.Enum,
				Actual:   value,
			})
		}
	}

	return errs
}

func checkString(field string, rule FieldRule, s string) []FieldError {
	var errs []FieldError
	if rule.MinLength != nil && len(s) < *rule.MinLength {
		errs = append(errs, FieldError{
			Field:    field,
			Message:  fmt.Sprintf("field %q shorter than minimum length %d", field, *rule.MinLength),
			Expected: *rule.MinLength,
			Actual:   len(s),
		})
	}
	if rule.MaxLength != nil && len(s) > *rule.MaxLength {
		errs = append(errs, FieldError{
			Field:    field,
			Message:  fmt.Sprintf("field %q longer than maximum length %d", field, *rule.MaxLength),
			Expected: *rule.MaxLength,
			Actual:   len(s),
		})
	}
	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("field %q has an invalid validation pattern", field),
			})
		} else if !re.MatchString(s) {
			errs = append(errs, FieldError{
				Field:    field,
				Message:  fmt.Sprintf("field %q does not match required pattern", field),
				Expected: rule.Pattern,
				Actual:   s,
			})
		}
	}
	return errs
}

func checkNumber(field string, rule FieldRule, n float64) []FieldError {
	var errs []FieldError
	if rule.Minimum != nil && n < *rule.Minimum {
		errs = append(errs, FieldError{
			Field:    field,
			Message:  fmt.Sprintf("field %q below minimum %v", field, *rule.Minimum),
			Expected: *rule.Minimum,
			Actual:   n,
		})
	}
	if rule.Maximum != nil && n > *rule.Maximum {
		errs = append(errs, FieldError{
			Field:    field,
			Message:  fmt.Sprintf("field %q above maximum %v", field, *rule.Maximum),
			Expected: *rule.Maximum,
			Actual:   n,
		})
	}
	return errs
}

func matchesType(fieldType string, value interface{}) bool {
	switch fieldType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	}
	return false
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func inEnum(enum []interface{}, value interface{}) bool {
	for _, allowed := range enum {
		if enumEqual(allowed, value) {
			return true
		}
	}
	return false
}

// enumEqual compares enum members loosely across numeric types so that a
// YAML-declared integer matches a JSON-decoded float64.
func enumEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	if isNumeric(a) && isNumeric(b) {
		return toFloat(a) == toFloat(b)
	}
	return false
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}
