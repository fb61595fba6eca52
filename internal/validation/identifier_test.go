package validation

import "testing"

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{name: "email", id: "farmer@example.com", valid: true},
		{name: "email with plus", id: "farmer+goats@example.co.ug", valid: true},
		{name: "phone", id: "+256700123456", valid: true},
		{name: "empty", id: "", valid: false},
		{name: "email without domain dot", id: "farmer@localhost", valid: false},
		{name: "email with display name", id: "Farmer <farmer@example.com>", valid: false},
		{name: "two addresses", id: "a@example.com,b@example.com", valid: false},
		{name: "phone without plus", id: "256700123456", valid: false},
		{name: "phone too short", id: "+2567001", valid: false},
		{name: "phone too long", id: "+2567001234567890", valid: false},
		{name: "phone with letters", id: "+25670012345a", valid: false},
		{name: "phone leading zero", id: "+0700123456", valid: false},
		{name: "email with invalid utf-8", id: "farm\xffer@example.com", valid: false},
		{name: "email with invalid utf-8 domain", id: "farmer@ex\xc3ample.com", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidIdentifier(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidIdentifier(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  Farmer@Example.COM "); got != "farmer@example.com" {
		t.Fatalf("NormalizeIdentifier email = %q", got)
	}
	if got := NormalizeIdentifier(" +256700123456"); got != "+256700123456" {
		t.Fatalf("NormalizeIdentifier phone = %q", got)
	}
}

func TestIsValidOrderID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{id: "ORD-1", valid: true},
		{id: "9f1c2d3e-aaaa-bbbb-cccc-000000000001", valid: true},
		{id: "", valid: false},
		{id: "ORD 1", valid: false},
		{id: "ORD\n1", valid: false},
		{id: string(make([]byte, 65)), valid: false},
	}

	for _, tt := range tests {
		if got := IsValidOrderID(tt.id); got != tt.valid {
			t.Fatalf("IsValidOrderID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}
