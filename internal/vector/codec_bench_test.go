package vector

import "testing"

func BenchmarkEncodeDecode(b *testing.B) {
	v := make([]float32, 384)
	for i := range v {
		v[i] = float32(i) / 384
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(Encode(v)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDot(b *testing.B) {
	x := make([]float32, 384)
	y := make([]float32, 384)
	for i := range x {
		x[i], y[i] = float32(i), float32(384-i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Dot(x, y)
	}
}
