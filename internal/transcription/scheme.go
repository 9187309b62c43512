package transcription

import (
	"fmt"
	"strings"
)

// Scheme selects the collocation rule applied uniformly to every interval.
type Scheme int

const (
	// Trapezoidal enforces (x[k+1]-x[k])/h = (f[k]+f[k+1])/2 and integrates
	// the Lagrange term with the trapezoidal rule.
	Trapezoidal Scheme = iota
	// HermiteSimpson collocates at each interval midpoint using the cubic
	// Hermite interpolant of the state and a midpoint control variable, and
	// integrates the Lagrange term with Simpson's rule.
	HermiteSimpson
)

func (s Scheme) String() string {
	switch s {
	case Trapezoidal:
		return "trapezoidal"
	case HermiteSimpson:
		return "hermite-simpson"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// Order is the local error order used to predict refinement gains.
func (s Scheme) Order() int {
	if s == HermiteSimpson {
		return 4
	}
	return 2
}

// ParseScheme accepts the names produced by String.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "trapezoidal", "trapezoid":
		return Trapezoidal, nil
	case "hermite-simpson", "hermitesimpson", "hs":
		return HermiteSimpson, nil
	default:
		return 0, fmt.Errorf("unknown collocation scheme: %s", name)
	}
}
