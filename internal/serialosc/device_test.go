package serialosc

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		model    string
		kind     Kind
		encoders int
	}{
		{"monome 128", KindGrid, 0},
		{"monome 64", KindGrid, 0},
		{"monome arc 4", KindArc, 4},
		{"monome arc 2", KindArc, 2},
		{"monome arc", KindGrid, 0},
		{"", KindGrid, 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			kind, enc := Classify(tt.model)
			if kind != tt.kind || enc != tt.encoders {
				t.Errorf("Classify(%q) = %s, %d; want %s, %d", tt.model, kind, enc, tt.kind, tt.encoders)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	for _, k := range []Kind{KindGrid, KindArc} {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if ParseKind("toaster") != KindGrid {
		t.Error("unknown kind should parse as grid")
	}
}

func TestRandomPortRange(t *testing.T) {
	for range 1000 {
		p := RandomPort()
		if p < 1024 || p >= 65535 {
			t.Fatalf("RandomPort() = %d, want in [1024, 65535)", p)
		}
	}
}

func TestValidRotation(t *testing.T) {
	for _, r := range []int{0, 90, 180, 270} {
		if !ValidRotation(r) {
			t.Errorf("ValidRotation(%d) = false", r)
		}
	}
	for _, r := range []int{-90, 45, 360} {
		if ValidRotation(r) {
			t.Errorf("ValidRotation(%d) = true", r)
		}
	}
}
