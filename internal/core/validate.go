package core

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var labelRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

func init() {
	validate.RegisterValidation("domain", func(fl validator.FieldLevel) bool {
		return validDomainName(fl.Field().String())
	})
}

// validDomainName is the cheap request-level check. The ACME layer runs
// the full RFC validation before any CA traffic.
func validDomainName(domain string) bool {
	domain = strings.TrimPrefix(domain, "*.")
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !labelRegex.MatchString(l) {
			return false
		}
	}
	return true
}
