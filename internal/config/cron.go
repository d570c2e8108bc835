package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidateCron parses a cron expression with 5 fields
// returns error if it fails
func ValidateCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	// len == 5
	_, err := parser5.Parse(e)
	return err
}
