package orchestrator

import (
	"strings"
	"unicode"
)

// Category selects the handler for a request.
type Category string

// Request categories
const (
	CategoryEquipmentLookup Category = "equipment_lookup"
	CategoryWorkOrder       Category = "work_order"
	CategoryTroubleshooting Category = "troubleshooting"
	CategorySMEQuery        Category = "sme_query"
)

// Categories lists every category in routing priority order.
func Categories() []Category {
	return []Category{
		CategoryWorkOrder,
		CategoryTroubleshooting,
		CategoryEquipmentLookup,
		CategorySMEQuery,
	}
}

// routes are checked in order; the first category with a matching phrase wins.
var routes = []struct {
	category Category
	phrases  []string
}{
	{CategoryWorkOrder, []string{
		"work order", "create order", "open a ticket", "ticket", "schedule", "assign", "dispatch",
	}},
	{CategoryTroubleshooting, []string{
		"error", "fault", "alarm", "not working", "broken", "leak", "leaking", "noise", "noisy",
		"vibration", "vibrating", "overheat", "overheating", "tripped", "wont start", "not starting",
	}},
	{CategoryEquipmentLookup, []string{
		"serial", "model number", "part number", "manual", "datasheet", "spec sheet", "look up",
		"lookup", "where is", "which pump", "which motor",
	}},
}

// Route classifies input by keyword. It performs no I/O; anything without a
// recognized phrase is a general expert query.
func Route(input string) Category {
	words := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return CategorySMEQuery
	}
	// Apostrophes split words, so "won't" arrives as "won t".
	text := " " + strings.ReplaceAll(strings.Join(words, " "), "won t", "wont") + " "

	for _, r := range routes {
		for _, phrase := range r.phrases {
			if strings.Contains(text, " "+phrase+" ") {
				return r.category
			}
		}
	}
	return CategorySMEQuery
}
