package validation

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

// FieldType is the expected type of a payload field.
type FieldType int

const (
	String FieldType = iota
	Number
	Bool
)

func (t FieldType) String() string {
	switch t {
	case Number:
		return "number"
	case Bool:
		return "bool"
	default:
		return "string"
	}
}

const defaultMaxLength = 1000

// Field declares the rules for one payload field.
type Field struct {
	Name      string
	Required  bool
	Type      FieldType
	MinLength int            // Minimum length of string values.
	MaxLength int            // Maximum length of string values, 1000 when zero.
	MinValue  *float64       // Lower bound of numeric values.
	MaxValue  *float64       // Upper bound of numeric values.
	Pattern   *regexp.Regexp // Must match the raw string value.
	// Raw values are length and pattern checked only. Used for credentials and
	// identifiers, where escaping would change the value looked up.
	Raw bool
}

// Schema is an ordered list of fields; errors are reported in this order.
type Schema []Field

// Result is all-or-nothing: Data must not be used unless Valid is true.
type Result struct {
	Valid  bool
	Errors []string
	Data   map[string]any
}

// String returns the sanitized string value of field, or "".
func (r Result) String(field string) string {
	s, _ := r.Data[field].(string)
	return s
}

// Has reports whether field was present and non-empty in the payload.
func (r Result) Has(field string) bool {
	v, ok := r.Data[field]
	return ok && v != nil && v != ""
}

var (
	whitespace = regexp.MustCompile(`\s+`)

	sqlInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bunion\b.*\bselect\b`),
		regexp.MustCompile(`\bselect\b.*\bfrom\b`),
		regexp.MustCompile(`\binsert\b.*\binto\b`),
		regexp.MustCompile(`\bupdate\b.*\bset\b`),
		regexp.MustCompile(`\bdelete\b.*\bfrom\b`),
		regexp.MustCompile(`\bdrop\b.*\btable\b`),
		regexp.MustCompile(`\balter\b.*\btable\b`),
		regexp.MustCompile(`\bexec\b`),
		regexp.MustCompile(`\bscript\b`),
		regexp.MustCompile(`(--|#|/\*|\*/)`),
		regexp.MustCompile(`\bor\b.*=.*\bor\b`),
		regexp.MustCompile(`\band\b.*=.*\band\b`),
	}
)

// ValidateAndSanitize checks data against schema. Fields not named in the
// schema are dropped from the result.
func ValidateAndSanitize(data map[string]any, schema Schema) Result {
	var errs []string
	out := make(map[string]any, len(schema))

	for _, f := range schema {
		value, present := data[f.Name]
		if !present || value == nil || value == "" {
			if f.Required {
				errs = append(errs, fmt.Sprintf("%s is required", f.Name))
				continue
			}
			if present {
				out[f.Name] = value
			}
			continue
		}

		switch f.Type {
		case Number:
			n, ok := toNumber(value)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be of type %s", f.Name, f.Type))
				continue
			}
			if f.MinValue != nil && n < *f.MinValue {
				errs = append(errs, fmt.Sprintf("%s must be at least %s", f.Name, formatNumber(*f.MinValue)))
				continue
			}
			if f.MaxValue != nil && n > *f.MaxValue {
				errs = append(errs, fmt.Sprintf("%s must be no more than %s", f.Name, formatNumber(*f.MaxValue)))
				continue
			}
			out[f.Name] = n

		case Bool:
			b, ok := value.(bool)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be of type %s", f.Name, f.Type))
				continue
			}
			out[f.Name] = b

		default:
			s, ok := toString(value)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be of type %s", f.Name, f.Type))
				continue
			}
			clean, msg := checkString(f, s)
			if msg != "" {
				errs = append(errs, msg)
				continue
			}
			out[f.Name] = clean
		}
	}

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}
	return Result{Valid: true, Data: out}
}

func checkString(f Field, s string) (string, string) {
	maxLength := f.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	n := len([]rune(s))
	if n < f.MinLength {
		return "", fmt.Sprintf("%s must be at least %d characters long", f.Name, f.MinLength)
	}
	if n > maxLength {
		return "", fmt.Sprintf("%s must be no more than %d characters long", f.Name, maxLength)
	}
	if f.Pattern != nil && !f.Pattern.MatchString(s) {
		return "", fmt.Sprintf("%s format is invalid", f.Name)
	}
	if f.Raw {
		return s, ""
	}

	normalized := Normalize(s)
	if ContainsSQLInjection(normalized) {
		return "", fmt.Sprintf("%s contains potentially dangerous content", f.Name)
	}
	return html.EscapeString(normalized), ""
}

// Normalize trims s, removes NUL bytes and collapses runs of whitespace.
func Normalize(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	return whitespace.ReplaceAllString(s, " ")
}

// ContainsSQLInjection reports whether s matches one of the keyword heuristics.
// It is a coarse filter, not a replacement for parameterized queries.
func ContainsSQLInjection(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range sqlInjectionPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
