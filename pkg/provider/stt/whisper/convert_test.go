package whisper

import (
	"math"
	"testing"
)

func TestPCMToFloat32(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want []float32
	}{
		{"empty", nil, []float32{}},
		{"zero", []byte{0, 0}, []float32{0}},
		{"max positive", []byte{0xFF, 0x7F}, []float32{32767.0 / 32768.0}},
		{"min negative", []byte{0x00, 0x80}, []float32{-1}},
		{"trailing odd byte ignored", []byte{0, 0x40, 7}, []float32{0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pcmToFloat32(tt.pcm)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
