package base

import (
	"strings"

	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// TableColumns is the column layout warehouse destinations create and
// insert into: the custom schema when one is configured, otherwise the
// click event layout.
func TableColumns(cfg core.Config) []models.SchemaField {
	if cfg.Schema.Mode == models.SchemaModeCustom && len(cfg.Schema.Fields) > 0 {
		return cfg.Schema.Fields
	}
	return models.EventFields
}

// QuoteIdent double-quotes a SQL identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName joins quoted identifier parts with dots, skipping empty parts.
func QualifiedName(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			quoted = append(quoted, QuoteIdent(p))
		}
	}
	return strings.Join(quoted, ".")
}
