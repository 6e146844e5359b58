package osc

import (
	"math"
	"testing"
)

func TestIntClampsToInt32(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int32
	}{
		{"zero", 0, 0},
		{"port", 13000, 13000},
		{"negative delta", -3, -3},
		{"max", math.MaxInt32, math.MaxInt32},
		{"above max", math.MaxInt32 + 1, math.MaxInt32},
		{"far above max", math.MaxInt64, math.MaxInt32},
		{"below min", math.MinInt32 - 1, math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Int(tt.in)
			if a.Type != ArgInt {
				t.Fatalf("Type = %q, want %q", a.Type, ArgInt)
			}
			if got, ok := a.Value.(int32); !ok || got != tt.want {
				t.Errorf("Int(%d).Value = %v, want %d", tt.in, a.Value, tt.want)
			}

			raw := Arg{Type: ArgInt, Value: tt.in}
			got, err := raw.native()
			if err != nil {
				t.Fatalf("native() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("native() = %v, want %d", got, tt.want)
			}
		})
	}
}
