package version

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.9", "1.10", -1}, // numeric, not lexicographic
		{"1.10", "1.9", 1},
		{"2.0.0", "2.0", 0}, // zero-padded
		{"2.0", "2.0.0", 0},
		{"1.2.3", "1.2.3", 0},
		{"0.9", "1.0", -1},
		{"10.0", "9.9", 1},
		{"1.0.1", "1.0", 1},
		{"1", "1.0.0", 0},
		{" 1.2 ", "1.2", 0},
		{"1.2-beta", "1.2", 0}, // trailing junk ignored
		{"", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
