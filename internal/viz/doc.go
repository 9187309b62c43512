// Package viz renders solver output in the terminal.
//
//   - [Summary]: lipgloss panel with the outcome of a solve and its rounds
//   - [PlotTrajectory]: asciigraph plot of one state or control column
//   - [PhasePortrait]: Braille [Canvas] plot of one state against another
//   - [Monitor]: Bubble Tea model that follows a running solve
//
// # Key Bindings
//
//	q, Ctrl+C - Stop the solve and quit the monitor
package viz
