package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		input string
		want  Category
	}{
		{"Please create a work order for the chiller", CategoryWorkOrder},
		{"Schedule PM on pump P-101", CategoryWorkOrder},
		{"Pump P-101 is leaking at the seal", CategoryTroubleshooting},
		{"Compressor won't start after the storm", CategoryTroubleshooting},
		{"VFD shows fault F0004", CategoryTroubleshooting},
		{"What is the serial of AHU-3?", CategoryEquipmentLookup},
		{"Where is the manual for the boiler", CategoryEquipmentLookup},
		{"How often should bearings be greased?", CategorySMEQuery},
		{"", CategorySMEQuery},
		{"   ?!  ", CategorySMEQuery},
		// Phrases match whole words only.
		{"The strip heater terror", CategorySMEQuery},
		// Work orders outrank troubleshooting.
		{"Open a ticket: pump leaking", CategoryWorkOrder},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.input))
		})
	}
}

func TestCategoriesAreRouted(t *testing.T) {
	seen := map[Category]bool{CategorySMEQuery: true}
	for _, r := range routes {
		seen[r.category] = true
	}
	for _, c := range Categories() {
		assert.True(t, seen[c], c)
	}
}
