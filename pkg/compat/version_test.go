package compat

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input     string
		want      Version
		wantError bool
	}{
		{"1.43", Version{1, 43, 0}, false},
		{"27.3.1", Version{27, 3, 1}, false},
		{"v1.42", Version{1, 42, 0}, false},
		{"2", Version{2, 0, 0}, false},
		{"1.43.0-rc.1", Version{1, 43, 0}, false},
		{"1.43+build5", Version{1, 43, 0}, false},
		{" 1.42 ", Version{1, 42, 0}, false},
		{"", Version{}, true},
		{"abc", Version{}, true},
		{"1.2.3.4", Version{}, true},
		{"1.-2", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b Version
		want int
	}{
		{Version{1, 42, 0}, Version{1, 42, 0}, 0},
		{Version{1, 41, 9}, Version{1, 42, 0}, -1},
		{Version{1, 43, 0}, Version{1, 42, 0}, 1},
		{Version{2, 0, 0}, Version{1, 99, 99}, 1},
		{Version{1, 42, 1}, Version{1, 42, 0}, 1},
	}

	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !MustParse("1.43").AtLeast(MinStartupStreams) {
		t.Error("1.43 should satisfy the startup stream threshold")
	}
	if MustParse("1.41").AtLeast(MinStartupStreams) {
		t.Error("1.41 should not satisfy the startup stream threshold")
	}
	if (Version{}).AtLeast(MinStartupStreams) {
		t.Error("zero version should not satisfy any threshold")
	}
}
