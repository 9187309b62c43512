package integrators

import (
	"testing"

	"github.com/san-kum/trajopt/internal/dynamo"
)

func benchmarkStep(b *testing.B, integ Integrator) {
	x := dynamo.State{1.0, 0.0}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _ = integ.Step(oscillator, x, 0, 0.01)
	}
}

func BenchmarkEuler(b *testing.B) { benchmarkStep(b, NewEuler()) }
func BenchmarkRK4(b *testing.B)   { benchmarkStep(b, NewRK4()) }
func BenchmarkRK45(b *testing.B)  { benchmarkStep(b, NewRK45()) }

func BenchmarkIntegrateInterval(b *testing.B) {
	integ := NewRK4()
	for i := 0; i < b.N; i++ {
		_, _ = Integrate(integ, oscillator, dynamo.State{1, 0}, 0, 1, 16)
	}
}
