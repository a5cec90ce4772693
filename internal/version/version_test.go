// ABOUTME: Tests for version constants
// ABOUTME: Checks the values sent in the client hello are well formed
package version

import (
	"strconv"
	"strings"
	"testing"
)

func TestConstants(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"version", Version},
		{"product", Product},
		{"manufacturer", Manufacturer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" || len(tt.value) > 100 {
				t.Errorf("unexpected %s %q", tt.name, tt.value)
			}
		})
	}
}

func TestVersionIsSemver(t *testing.T) {
	parts := strings.Split(Version, ".")
	if len(parts) != 3 {
		t.Fatalf("expected major.minor.patch, got %q", Version)
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			t.Errorf("non-numeric version part %q in %q", p, Version)
		}
	}
}

func TestProductIsLowercase(t *testing.T) {
	if Product != strings.ToLower(Product) {
		t.Errorf("expected a lowercase product name, got %q", Product)
	}
}
