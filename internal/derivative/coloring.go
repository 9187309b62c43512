package derivative

import (
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/coloring"
	"gonum.org/v1/gonum/graph/simple"
)

// Coloring groups columns that never share a row, so one perturbation per
// class recovers every entry of the class unambiguously.
type Coloring struct {
	// Classes lists the columns of each color, ascending, with classes
	// ordered by their smallest column.
	Classes [][]int
	// Of maps a column to its class index, or -1 for columns that appear
	// in no row.
	Of []int
}

func (c Coloring) Len() int { return len(c.Classes) }

// colorColumns builds the column intersection graph of rows (each a set of
// columns) and colors it greedily in Welsh-Powell order. Degree ties are
// broken by column so the classes depend only on the pattern.
func colorColumns(n int, rows [][]int) (Coloring, error) {
	g := simple.NewUndirectedGraph()
	for _, cols := range rows {
		for i, a := range cols {
			if g.Node(int64(a)) == nil {
				g.AddNode(simple.Node(a))
			}
			for _, b := range cols[:i] {
				if a != b {
					g.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
				}
			}
		}
	}

	nodes := graph.NodesOf(g.Nodes())
	degree := make(map[int64]int, len(nodes))
	for _, u := range nodes {
		degree[u.ID()] = g.From(u.ID()).Len()
	}
	slices.SortFunc(nodes, func(a, b graph.Node) int {
		if d := degree[b.ID()] - degree[a.ID()]; d != 0 {
			return d
		}
		return cmp.Compare(a.ID(), b.ID())
	})

	seed := make(map[int64]int, len(nodes))
	for _, u := range nodes {
		used := make(map[int]bool)
		for to := g.From(u.ID()); to.Next(); {
			if c, ok := seed[to.Node().ID()]; ok {
				used[c] = true
			}
		}
		c := 0
		for used[c] {
			c++
		}
		seed[u.ID()] = c
	}

	// WelshPowell rejects an inconsistent seed and fills any node the
	// ordered pass left uncolored.
	_, colors, err := coloring.WelshPowell(g, seed)
	if err != nil {
		return Coloring{}, fmt.Errorf("derivative: coloring %d columns: %w", n, err)
	}

	sets := coloring.Sets(colors)
	classes := make([][]int, 0, len(sets))
	for _, ids := range sets {
		cols := make([]int, len(ids))
		for i, id := range ids {
			cols[i] = int(id)
		}
		classes = append(classes, cols)
	}
	slices.SortFunc(classes, func(a, b []int) int { return a[0] - b[0] })

	of := make([]int, n)
	for i := range of {
		of[i] = -1
	}
	for k, cols := range classes {
		for _, c := range cols {
			of[c] = k
		}
	}
	return Coloring{Classes: classes, Of: of}, nil
}

// Valid reports whether no two columns of a class share a row.
func (c Coloring) Valid(rows [][]int) bool {
	for _, cols := range rows {
		seen := make(map[int]bool, len(cols))
		for _, col := range cols {
			k := c.Of[col]
			if k < 0 || seen[k] {
				return false
			}
			seen[k] = true
		}
	}
	return true
}

func rowsOf(p Pattern, nRows int) [][]int {
	rows := make([][]int, nRows)
	for e := range p.Rows {
		rows[p.Rows[e]] = append(rows[p.Rows[e]], p.Cols[e])
	}
	return rows
}
