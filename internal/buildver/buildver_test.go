package buildver

import "testing"

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "equal", a: "1.105.332.1020", b: "1.105.332.1020", want: 0},
		{name: "numeric segment beats lexical", a: "1.9.0", b: "1.10.0", want: -1},
		{name: "four part builds", a: "1.110.265.1030", b: "1.110.311.1020", want: -1},
		{name: "longer build wins on prefix", a: "1.110", b: "1.110.1", want: -1},
		{name: "leading zeros ignored", a: "1.007", b: "1.7", want: 0},
		{name: "greater", a: "2.0.0", b: "1.999.999", want: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Fatalf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Compare(tt.b, tt.a); got != -tt.want {
				t.Fatalf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestNewer(t *testing.T) {
	t.Parallel()

	if Newer("", "1.0") {
		t.Fatalf("empty candidate should never be newer")
	}
	if !Newer("1.0", "") {
		t.Fatalf("any candidate is newer than an empty current")
	}
	if !Newer("1.106.148.1030", "1.105.332.1020") {
		t.Fatalf("later build should be newer")
	}
	if Newer("1.105.332.1020", "1.105.332.1020") {
		t.Fatalf("equal builds are not newer")
	}
}
