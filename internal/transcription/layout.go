package transcription

// BlockKind tags a contiguous group of constraint rows.
type BlockKind int

const (
	DefectBlock BlockKind = iota
	PathBlock
	PeriodicBlock
	EndpointBlock
)

func (k BlockKind) String() string {
	switch k {
	case DefectBlock:
		return "defect"
	case PathBlock:
		return "path"
	case PeriodicBlock:
		return "periodic"
	case EndpointBlock:
		return "endpoint"
	default:
		return "unknown"
	}
}

// Block records the row range [Start, End) of one constraint group. Index
// is the interval (defects) or mesh point (path) the block belongs to.
type Block struct {
	Kind  BlockKind
	Index int
	Start int
	End   int
}

func (b Block) Len() int { return b.End - b.Start }

// Support is a run of rows [Start, End) of the stacked vector
// [constraints; objective terms] that all depend on the same columns.
type Support struct {
	Start int
	End   int
	Cols  []int
}

const (
	initialTimeIndex = 0
	finalTimeIndex   = 1
	paramOffset      = 2
)

func (e *Engine) buildLayout() {
	n := e.mesh.Len()
	e.offsets = make([]int, n)
	off := paramOffset + e.np
	for k := 0; k < n; k++ {
		e.offsets[k] = off
		off += e.nx + e.nu
		if e.scheme == HermiteSimpson && k < n-1 {
			off += e.nu
		}
	}
	e.nVars = off

	row := 0
	add := func(kind BlockKind, idx, rows int) {
		if rows == 0 {
			return
		}
		e.blocks = append(e.blocks, Block{Kind: kind, Index: idx, Start: row, End: row + rows})
		row += rows
	}
	for k := 0; k < n-1; k++ {
		add(DefectBlock, k, e.nx)
	}
	for k := 0; k < n; k++ {
		add(PathBlock, k, e.nc)
	}
	add(PeriodicBlock, 0, len(e.prob.Periodic))
	add(EndpointBlock, 0, e.ne)
	e.nCons = row

	e.nTerms = n + 1
	if e.scheme == HermiteSimpson {
		e.nTerms += n - 1
	}
}

// VariableCount returns the length of the NLP variable vector.
func (e *Engine) VariableCount() int { return e.nVars }

// ConstraintCount returns the length of the constraint vector.
func (e *Engine) ConstraintCount() int { return e.nCons }

// TermCount returns the length of the objective-term vector.
func (e *Engine) TermCount() int { return e.nTerms }

// Blocks returns the constraint blocks in row order.
func (e *Engine) Blocks() []Block {
	out := make([]Block, len(e.blocks))
	copy(out, e.blocks)
	return out
}

func (e *Engine) InitialTimeIndex() int { return initialTimeIndex }
func (e *Engine) FinalTimeIndex() int   { return finalTimeIndex }
func (e *Engine) ParamIndex(i int) int  { return paramOffset + i }

// StateIndex returns the column of state i at mesh point k.
func (e *Engine) StateIndex(k, i int) int { return e.offsets[k] + i }

// ControlIndex returns the column of control j at mesh point k.
func (e *Engine) ControlIndex(k, j int) int { return e.offsets[k] + e.nx + j }

// MidControlIndex returns the column of midpoint control j of interval k.
// It returns -1 for schemes without midpoint controls.
func (e *Engine) MidControlIndex(k, j int) int {
	if e.scheme != HermiteSimpson {
		return -1
	}
	return e.offsets[k] + e.nx + e.nu + j
}

// globalCols lists the time and parameter columns every local function
// depends on. Fixed times are constants and are left out.
func (e *Engine) globalCols() []int {
	cols := make([]int, 0, 2+e.np)
	if !e.prob.InitialTime.IsFixed() {
		cols = append(cols, initialTimeIndex)
	}
	if !e.prob.FinalTime.IsFixed() {
		cols = append(cols, finalTimeIndex)
	}
	for i := 0; i < e.np; i++ {
		cols = append(cols, paramOffset+i)
	}
	return cols
}

func (e *Engine) pointCols(k int) []int {
	cols := make([]int, 0, e.nx+e.nu)
	for i := 0; i < e.nx+e.nu; i++ {
		cols = append(cols, e.offsets[k]+i)
	}
	return cols
}

func (e *Engine) intervalCols(k int) []int {
	cols := append(e.globalCols(), e.pointCols(k)...)
	if e.scheme == HermiteSimpson {
		for j := 0; j < e.nu; j++ {
			cols = append(cols, e.MidControlIndex(k, j))
		}
	}
	return append(cols, e.pointCols(k+1)...)
}

// Supports describes the structural dependence of every row of the stacked
// vector [constraints; objective terms]. Column lists are ascending.
func (e *Engine) Supports() []Support {
	var out []Support
	last := e.mesh.Len() - 1
	for _, b := range e.blocks {
		switch b.Kind {
		case DefectBlock:
			out = append(out, Support{Start: b.Start, End: b.End, Cols: e.intervalCols(b.Index)})
		case PathBlock:
			out = append(out, Support{Start: b.Start, End: b.End, Cols: append(e.globalCols(), e.pointCols(b.Index)...)})
		case PeriodicBlock:
			for r, idx := range e.prob.Periodic {
				out = append(out, Support{Start: b.Start + r, End: b.Start + r + 1, Cols: []int{e.StateIndex(0, idx), e.StateIndex(last, idx)}})
			}
		case EndpointBlock:
			out = append(out, Support{Start: b.Start, End: b.End, Cols: e.endpointCols()})
		}
	}

	base := e.nCons
	for k := 0; k <= last; k++ {
		out = append(out, Support{Start: base + k, End: base + k + 1, Cols: append(e.globalCols(), e.pointCols(k)...)})
	}
	base += last + 1
	if e.scheme == HermiteSimpson {
		for k := 0; k < last; k++ {
			out = append(out, Support{Start: base + k, End: base + k + 1, Cols: e.intervalCols(k)})
		}
		base += last
	}
	out = append(out, Support{Start: base, End: base + 1, Cols: e.endpointCols()})
	return out
}

func (e *Engine) endpointCols() []int {
	last := e.mesh.Len() - 1
	cols := e.globalCols()
	for i := 0; i < e.nx; i++ {
		cols = append(cols, e.StateIndex(0, i))
	}
	for i := 0; i < e.nx; i++ {
		cols = append(cols, e.StateIndex(last, i))
	}
	return cols
}
