package version

import "testing"

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.1.0", "1.0.0", 1},
		{"1.0.0", "1.1.0", -1},
		{"0.9.0", "1.0.0", -1},
		{"2.0.0", "1.99.99", 1},
		{"1.0.1", "1.0.0", 1},
		{"1.0", "1.0.0", 0},
		{"1", "1.0.0", 0},
		{"", "0.0.0", 0},
		{"v1.2.3", "1.2.3", 0},
		{"1.2.3-beta", "1.2.3", 0},
		{"1.10.0", "1.9.0", 1},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	pairs := [][2]string{
		{"1.0.0", "1.1.0"},
		{"0.0.1", "0.0.2"},
		{"3.2.1", "3.2.0"},
	}
	for _, p := range pairs {
		if Compare(p[0], p[1]) != -Compare(p[1], p[0]) {
			t.Errorf("Compare(%q,%q) not antisymmetric", p[0], p[1])
		}
	}
}

func TestCompareTransitive(t *testing.T) {
	a, b, c := "1.0.0", "1.2.0", "2.0.0"
	if !(Compare(a, b) < 0 && Compare(b, c) < 0 && Compare(a, c) < 0) {
		t.Error("ordering not transitive over 1.0.0 < 1.2.0 < 2.0.0")
	}
}

func TestNewer(t *testing.T) {
	if !Newer("1.1.0", "1.0.0") {
		t.Error("1.1.0 should be newer than 1.0.0")
	}
	if Newer("1.0.0", "1.0.0") {
		t.Error("equal versions are not newer")
	}
	if Newer("0.9.0", "1.0.0") {
		t.Error("lower version is not newer")
	}
}

func TestParseGarbage(t *testing.T) {
	if got := Compare("x.y.z", "0.0.0"); got != 0 {
		t.Errorf("garbage components should compare as 0, got %d", got)
	}
}
