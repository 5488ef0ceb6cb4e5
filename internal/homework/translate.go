package homework

import (
	"fmt"
	"sort"
)

// Record is one element of the homeworks sequence.
type Record = any

// Verdicts maps a status code to its verdict text. The set is closed.
type Verdicts map[string]string

// DefaultVerdicts is the verdict table of the status API.
func DefaultVerdicts() Verdicts {
	return Verdicts{
		"approved":  "The work has been reviewed: the reviewer liked everything. Hooray!",
		"reviewing": "The work has been taken for review.",
		"rejected":  "The work has been reviewed: the reviewer has comments.",
	}
}

// Codes returns the known status codes, sorted.
func (v Verdicts) Codes() []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MessageFormat is the notification sentence for a status change.
const MessageFormat = `Changed review status for "%s". %s`

// Translator turns records into notification text.
type Translator struct {
	verdicts Verdicts
}

// NewTranslator copies v; a nil map means DefaultVerdicts.
func NewTranslator(v Verdicts) *Translator {
	if v == nil {
		v = DefaultVerdicts()
	}
	cp := make(Verdicts, len(v))
	for k, s := range v {
		cp[k] = s
	}
	return &Translator{verdicts: cp}
}

func (t *Translator) Verdict(code string) (string, bool) {
	s, ok := t.verdicts[code]
	return s, ok
}

func (t *Translator) Translate(rec Record) (string, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return "", schemaError("homework record is not an object (got %s)", typeName(rec))
	}
	rawName, ok := m["homework_name"]
	if !ok {
		return "", schemaError("homework record is missing homework_name")
	}
	rawStatus, ok := m["status"]
	if !ok {
		return "", schemaError("homework record is missing status")
	}
	name := fmt.Sprint(rawName)
	status, ok := rawStatus.(string)
	if !ok {
		return "", schemaError("homework %q: status is not a string (got %s)", name, typeName(rawStatus))
	}

	verdict, ok := t.verdicts[status]
	if !ok {
		return "", &Error{
			Kind:     KindUnknownVerdict,
			Msg:      fmt.Sprintf("undocumented homework status %q for %q", status, name),
			Homework: name,
			Status:   status,
		}
	}
	return fmt.Sprintf(MessageFormat, name, verdict), nil
}
