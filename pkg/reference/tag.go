package reference

import (
	"strings"
	"unicode"
)

// CanonicalTag converts a reference-type tag to its canonical StudlyCaps form:
// "patient_record", "patient-record" and "patientRecord" all canonicalize to
// "PatientRecord". Tags are always canonicalized before comparison, storage,
// or registry lookup.
func CanonicalTag(tag string) string {
	if tag == "" {
		return ""
	}

	var b strings.Builder
	upperNext := true
	for _, r := range tag {
		switch {
		case r == '_' || r == '-' || r == ' ':
			upperNext = true
		case upperNext:
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SnakeTag converts a canonical tag back to its snake_case input-key form:
// "PatientRecord" becomes "patient_record". Raw input keys are matched
// against configured tags in this form.
func SnakeTag(tag string) string {
	if tag == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range tag {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
