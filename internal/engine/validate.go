package engine

import (
	"fmt"
	"time"
)

// Validate checks the invariants every summary set must hold before it is
// published: the set is non-empty and every row resolved a weather
// observation. It never mutates rows.
func Validate(rows []DailySummary) error {
	if len(rows) == 0 {
		return &ValidationError{Problems: []string{"no summary rows produced"}}
	}

	var problems []string
	for _, r := range rows {
		if r.WeatherCondition == nil {
			problems = append(problems, fmt.Sprintf(
				"missing weather for %s on %s", r.Location, r.Date.Format(time.DateOnly)))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
