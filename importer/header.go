package importer

import (
	"fmt"
	"sort"
	"strings"

	"metricboard/internal/textnorm"
)

const (
	FieldSubjectID = "subject_id"
	FieldDate      = "date"
	FieldValue     = "value"
)

// headerAliases lists accepted header names per canonical field, in match
// priority order.
var headerAliases = []struct {
	field   string
	aliases []string
}{
	{field: FieldSubjectID, aliases: []string{
		"subject_id", "subject", "collaborator_id", "colaborador_id", "colaborador",
		"id_colaborador", "id", "matricula", "registration", "codigo", "code",
		"cod_colaborador", "cpf", "tax_id",
	}},
	{field: FieldDate, aliases: []string{"date", "data", "day", "dia"}},
	{field: FieldValue, aliases: []string{
		"value", "valor", "result", "resultado", "indice", "index", "score",
		"pontuacao", "tr", "time", "tempo",
	}},
}

// HeaderMap holds the column index of each canonical field.
type HeaderMap struct {
	SubjectID int
	Date      int
	Value     int
}

// HeaderError reports a header row that lacks one of the required fields.
type HeaderError struct {
	Found    []string
	Missing  []string
	Expected map[string][]string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("invalid header: missing %s (found: %s)",
		strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// ExpectedHeaders returns a copy of the alias table keyed by field.
func ExpectedHeaders() map[string][]string {
	out := make(map[string][]string, len(headerAliases))
	for _, entry := range headerAliases {
		aliases := append([]string(nil), entry.aliases...)
		sort.Strings(aliases)
		out[entry.field] = aliases
	}
	return out
}

// ResolveHeader maps the header row onto the canonical fields. Names are
// compared trimmed, case-insensitive and without accents; when a name appears
// twice the first column wins.
func ResolveHeader(cells []Cell) (HeaderMap, error) {
	found := make([]string, len(cells))
	index := make(map[string]int, len(cells))
	for i, cell := range cells {
		name := textnorm.Fold(cell.String())
		found[i] = name
		if _, exists := index[name]; !exists && name != "" {
			index[name] = i
		}
	}

	resolved := make(map[string]int, len(headerAliases))
	missing := make([]string, 0)
	for _, entry := range headerAliases {
		col, ok := -1, false
		for _, alias := range entry.aliases {
			if col, ok = index[alias]; ok {
				break
			}
		}
		if !ok {
			missing = append(missing, entry.field)
			continue
		}
		resolved[entry.field] = col
	}

	if len(missing) > 0 {
		return HeaderMap{}, &HeaderError{
			Found:    found,
			Missing:  missing,
			Expected: ExpectedHeaders(),
		}
	}

	return HeaderMap{
		SubjectID: resolved[FieldSubjectID],
		Date:      resolved[FieldDate],
		Value:     resolved[FieldValue],
	}, nil
}
