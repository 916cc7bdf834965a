package factory

import (
	"encoding/json"
)

// Preset leave policy documents. They build JSON directly so callers can
// store, edit or version them before parsing with ParseLeavePolicy.
//
//	jsonStr := factory.MonthlyVacationJSON("vac", "VAC", 1.25, 30)
//	policy, err := factory.NewConfigFactory().ParseLeavePolicy(jsonStr)

// MonthlyVacationJSON returns JSON for a vacation policy earning a fixed
// number of days per month, capped at maxBalance.
func MonthlyVacationJSON(id, code string, daysPerMonth, maxBalance float64) string {
	pj := map[string]any{
		"id":               id,
		"code":             code,
		"name":             "Vacation",
		"unit":             "days",
		"method":           "periodic",
		"rate":             daysPerMonth,
		"frequency":        "monthly",
		"max_balance":      maxBalance,
		"allow_fractional": true,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// SeniorityVacationJSON returns JSON for a vacation policy whose annual
// entitlement grows with years of service.
func SeniorityVacationJSON(id, code string, minServiceDays int, tiers map[int]float64) string {
	steps := make([]map[string]any, 0, len(tiers))
	for years, rate := range tiers {
		steps = append(steps, map[string]any{"after_years": years, "annual_rate": rate})
	}
	pj := map[string]any{
		"id":               id,
		"code":             code,
		"name":             "Vacation by seniority",
		"unit":             "days",
		"method":           "seniority",
		"tiers":            steps,
		"min_service_days": minServiceDays,
		"allow_fractional": true,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// HourlyLeaveJSON returns JSON for an hours-based policy earning
// hoursPerWorkedHour for every hour worked. Whole hours only, rounded down.
func HourlyLeaveJSON(id, code string, hoursPerWorkedHour float64) string {
	pj := map[string]any{
		"id":               id,
		"code":             code,
		"name":             "Paid time off",
		"unit":             "hours",
		"method":           "proportional",
		"basis":            "worked_hours",
		"rate":             hoursPerWorkedHour,
		"allow_fractional": false,
		"rounding":         "down",
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// SickLeaveJSON returns JSON for a sick leave policy earning annualDays a
// year, usable into a negative balance.
func SickLeaveJSON(id, code string, annualDays float64) string {
	pj := map[string]any{
		"id":                  id,
		"code":                code,
		"name":                "Sick leave",
		"unit":                "days",
		"method":              "periodic",
		"rate":                annualDays,
		"frequency":           "annual",
		"allow_fractional":    true,
		"allow_negative":      true,
		"accrue_during_leave": false,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
