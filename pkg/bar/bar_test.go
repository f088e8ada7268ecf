package bar

import (
	"io"
	"testing"
)

func TestPercentUpdate(t *testing.T) {
	tests := []struct {
		name    string
		updates []int
		want    int
	}{
		{"forward", []int{1, 10, 55}, 55},
		{"never backwards", []int{40, 20, 0}, 40},
		{"clamped", []int{90, 250}, 100},
		{"negative ignored", []int{-5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPercentWriter(io.Discard, "flashing")
			for _, u := range tt.updates {
				p.Update(u)
			}
			if got := p.Last(); got != tt.want {
				t.Errorf("Last() = %d, want %d", got, tt.want)
			}
			if err := p.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}
