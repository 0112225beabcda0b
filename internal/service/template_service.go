// internal/service/template_service.go
package service

import (
	"fmt"
	"strconv"
	"strings"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

const unknownValue = "<unknown>"

// RenderTemplate substitutes the positional placeholders {{1}}..{{n}}.
func RenderTemplate(body string, vars []string) string {
	if len(vars) == 0 {
		return body
	}
	pairs := make([]string, 0, len(vars)*2)
	for i, v := range vars {
		pairs = append(pairs, "{{"+strconv.Itoa(i+1)+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

// ResolveVariables reads the mapped contact fields in template order.
// Empty values become <unknown>.
func ResolveVariables(c *model.Contact, mapping []string) ([]string, error) {
	vars := make([]string, len(mapping))
	for i, field := range mapping {
		v, ok := c.Field(field)
		if !ok {
			return nil, appErrors.Validation(fmt.Sprintf("unknown contact field %q in variable mapping", field))
		}
		vars[i] = orUnknown(v)
	}
	return vars, nil
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return unknownValue
	}
	return value
}
