package derivative

import (
	"slices"

	"github.com/san-kum/trajopt/internal/transcription"
)

// Pattern is a list of structural nonzeros sorted by (row, col). Entry e of
// a value slice always corresponds to (Rows[e], Cols[e]).
type Pattern struct {
	Rows []int
	Cols []int
}

func (p Pattern) Len() int { return len(p.Rows) }

// Equal reports identical content and ordering.
func (p Pattern) Equal(o Pattern) bool {
	return slices.Equal(p.Rows, o.Rows) && slices.Equal(p.Cols, o.Cols)
}

func (p Pattern) prefix(rows int) Pattern {
	n, _ := slices.BinarySearch(p.Rows, rows)
	return Pattern{Rows: p.Rows[:n:n], Cols: p.Cols[:n:n]}
}

type entry struct{ r, c int }

func fromEntries(es []entry) Pattern {
	slices.SortFunc(es, func(a, b entry) int {
		if a.r != b.r {
			return a.r - b.r
		}
		return a.c - b.c
	})
	es = slices.Compact(es)
	p := Pattern{Rows: make([]int, len(es)), Cols: make([]int, len(es))}
	for i, e := range es {
		p.Rows[i], p.Cols[i] = e.r, e.c
	}
	return p
}

// JacobianSparsity derives the stacked [constraints; terms] Jacobian
// pattern from the block supports: every row depends on exactly the columns
// of its support.
func JacobianSparsity(supports []transcription.Support) Pattern {
	var es []entry
	for _, s := range supports {
		for r := s.Start; r < s.End; r++ {
			for _, c := range s.Cols {
				es = append(es, entry{r, c})
			}
		}
	}
	return fromEntries(es)
}

// HessianSparsity derives the lower triangle of the Lagrangian Hessian: each
// row's second derivatives couple every pair of its support columns.
func HessianSparsity(supports []transcription.Support) Pattern {
	var es []entry
	for _, s := range supports {
		for i, ci := range s.Cols {
			for _, cj := range s.Cols[:i+1] {
				r, c := ci, cj
				if c > r {
					r, c = c, r
				}
				es = append(es, entry{r, c})
			}
		}
	}
	return fromEntries(es)
}

// symmetric expands a lower-triangular pattern into per-row adjacency of
// the full matrix.
func symmetric(lower Pattern, n int) [][]int {
	adj := make([][]int, n)
	for e := range lower.Rows {
		r, c := lower.Rows[e], lower.Cols[e]
		adj[r] = append(adj[r], c)
		if r != c {
			adj[c] = append(adj[c], r)
		}
	}
	for i := range adj {
		slices.Sort(adj[i])
	}
	return adj
}
