package export

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/reconstruct"
)

func swing() *reconstruct.Trajectory {
	tr := &reconstruct.Trajectory{Scheme: "trapezoidal", FinalTime: 1}
	for k := 0; k < 4; k++ {
		tk := float64(k) / 3
		tr.Times = append(tr.Times, tk)
		tr.States = append(tr.States, dynamo.State{tk, 1 - tk})
		tr.Controls = append(tr.Controls, dynamo.Control{1})
	}
	return tr
}

func TestStatesSVG(t *testing.T) {
	svg, err := StatesSVG(swing(), 400, 200, 20)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(svg, "<?xml"))
	assert.True(t, strings.HasSuffix(svg, "</svg>"))
	assert.Equal(t, 2, strings.Count(svg, "<path"))
	assert.Equal(t, 8, strings.Count(svg, "<circle"))
	assert.Equal(t, 2*19, strings.Count(svg, " L"))
}

func TestPhaseSVG(t *testing.T) {
	svg, err := PhaseSVG(swing(), 0, 1, 200, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(svg, "<path"))
	assert.Equal(t, 4, strings.Count(svg, "<circle"))

	// x0 rises while x1 falls: the path starts top left
	assert.Contains(t, svg, `d="M16.7,16.7`)
}

func TestSVGRejectsBadInput(t *testing.T) {
	_, err := PhaseSVG(swing(), 0, 2, 200, 200, 10)
	assert.True(t, errors.Is(err, dynamo.ErrConfiguration))

	short := swing()
	short.Times, short.States, short.Controls = short.Times[:1], short.States[:1], short.Controls[:1]
	_, err = StatesSVG(short, 200, 200, 10)
	assert.True(t, errors.Is(err, dynamo.ErrConfiguration))

	_, err = StatesSVG(nil, 200, 200, 10)
	assert.True(t, errors.Is(err, dynamo.ErrConfiguration))
}
