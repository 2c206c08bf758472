package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var schoolYearPattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// ValidateSeedSchema checks the seed for errors before conversion.
// Returns every problem found.
func ValidateSeedSchema(schema *SeedSchema) []error {
	var errs []error

	if schema.SchoolYear != "" {
		if err := validateSchoolYear("school_year", schema.SchoolYear); err != nil {
			errs = append(errs, err)
		}
	}
	if len(schema.Buckets) == 0 {
		errs = append(errs, fmt.Errorf("buckets: at least one bucket is required"))
	}

	seen := make(map[string]int)
	for i, b := range schema.Buckets {
		field := fmt.Sprintf("buckets[%d]", i)

		if strings.TrimSpace(b.BudgetType) == "" {
			errs = append(errs, fmt.Errorf("%s.budget_type is required", field))
		}
		year := b.SchoolYear
		if year == "" {
			year = schema.SchoolYear
		}
		switch {
		case year == "":
			errs = append(errs, fmt.Errorf("%s.school_year is required (no file-level default)", field))
		case b.SchoolYear != "":
			if err := validateSchoolYear(field+".school_year", b.SchoolYear); err != nil {
				errs = append(errs, err)
			}
		}
		if b.Total == nil {
			errs = append(errs, fmt.Errorf("%s.total is required", field))
		} else if *b.Total < 0 {
			errs = append(errs, fmt.Errorf("%s.total must not be negative, got %d", field, *b.Total))
		}

		key := b.BudgetType + "/" + year
		if prev, ok := seen[key]; ok && b.BudgetType != "" && year != "" {
			errs = append(errs, fmt.Errorf("%s duplicates buckets[%d] (%s)", field, prev, key))
		} else {
			seen[key] = i
		}
	}
	return errs
}

// validateSchoolYear accepts "YYYY-YYYY" spanning consecutive years.
func validateSchoolYear(field, v string) error {
	m := schoolYearPattern.FindStringSubmatch(v)
	if m == nil {
		return fmt.Errorf("%s: invalid school year %q (expected YYYY-YYYY)", field, v)
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if end != start+1 {
		return fmt.Errorf("%s: school year %q must span consecutive years", field, v)
	}
	return nil
}
