package viz

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/reconstruct"
	"github.com/san-kum/trajopt/internal/trajopt"
)

func ramp() *reconstruct.Trajectory {
	return &reconstruct.Trajectory{
		Scheme:     "trapezoidal",
		FinalTime:  1,
		Times:      []float64{0, 0.5, 1},
		States:     []dynamo.State{{0, 1}, {0.5, 0}, {1, -1}},
		Controls:   []dynamo.Control{{2}, {1}, {0}},
		Objective:  1.5,
		Status:     nlp.Converged,
		Iterations: 4,
	}
}

func TestSummary(t *testing.T) {
	res := &trajopt.Result{
		Trajectory: ramp(),
		Refinement: trajopt.Accepted,
		Rounds: []trajopt.Round{
			{Index: 0, Points: 3, Iterations: 4, MaxError: 1e-3},
			{Index: 1, Points: 5, Iterations: 2, MaxError: 1e-6},
		},
	}
	out := Summary("ramp", res, map[string]float64{"control_effort": 2.5})
	for _, want := range []string{"converged", "accepted", "1.5", "rounds", "control_effort"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	if out := Summary("none", nil, nil); !strings.Contains(out, "no solution") {
		t.Errorf("expected no solution, got:\n%s", out)
	}
}

func TestPlotTrajectory(t *testing.T) {
	out, err := PlotTrajectory(ramp(), ControlSeries, 0, 30, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "u0 over") {
		t.Errorf("expected caption, got:\n%s", out)
	}

	if _, err := PlotTrajectory(ramp(), StateSeries, 3, 30, 5); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestPhasePortrait(t *testing.T) {
	out, err := PhasePortrait(ramp(), 0, 1, 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 4 canvas rows and a caption, got %d lines", len(lines))
	}
	// x1 falls as x0 rises: top-left and bottom-right cells are inked.
	if []rune(lines[0])[0] == 0x2800 || []rune(lines[3])[9] == 0x2800 {
		t.Errorf("expected a falling diagonal:\n%s", out)
	}
}

func TestCanvasDegenerateRange(t *testing.T) {
	c := NewCanvas(4, 2)
	c.Polyline([]float64{0, 1}, []float64{3, 3})
	if !strings.ContainsFunc(c.String(), func(r rune) bool { return r > 0x2800 && r <= 0x28ff }) {
		t.Error("expected a flat line to be drawn")
	}
}

func TestMonitorUpdate(t *testing.T) {
	feed := NewFeed()
	defer feed.Close()
	cancelled := false
	var m tea.Model = NewMonitor("test", 10, 1e-6, feed, func() { cancelled = true })

	m, _ = m.Update(IterationMsg{Iteration: 3, InfPr: 1e-2, InfDu: 1e-3, Mu: 0.1})
	m, _ = m.Update(RoundMsg{Points: 11, MaxError: 2e-4})
	mon := m.(Monitor)
	if mon.last.Iteration != 3 || len(mon.rounds) != 1 || mon.round != 1 {
		t.Errorf("unexpected monitor state %+v", mon)
	}
	if len(mon.infPr) != 0 {
		t.Error("expected history reset after a round")
	}
	if !strings.Contains(mon.View(), "11 points") {
		t.Errorf("view missing round:\n%s", mon.View())
	}

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled || cmd == nil {
		t.Error("expected quit key to cancel the solve and keep reading")
	}

	want := errors.New("boom")
	m, cmd = m.Update(DoneMsg{Err: want})
	if _, err := m.(Monitor).Result(); err != want {
		t.Errorf("expected result error, got %v", err)
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestFeedDelivers(t *testing.T) {
	feed := NewFeed()
	defer feed.Close()
	go feed.ObserveIteration(nlp.IterationStats{Iteration: 7})

	select {
	case msg := <-feed.ch:
		if it, ok := msg.(IterationMsg); !ok || it.Iteration != 7 {
			t.Errorf("unexpected message %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("feed did not deliver")
	}
}

func TestFeedCloseUnblocks(t *testing.T) {
	feed := &Feed{ch: make(chan tea.Msg), stop: make(chan struct{})}
	done := make(chan struct{})
	go func() {
		feed.ObserveRound(3, 0.1)
		close(done)
	}()
	feed.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send stayed blocked after close")
	}
	if msg := feed.wait()(); msg != nil {
		t.Errorf("expected nil message after close, got %#v", msg)
	}
}

func TestResiduals(t *testing.T) {
	if got := Residuals(nil, -6, 5); !strings.Contains(got, "─────") {
		t.Errorf("expected empty track, got %q", got)
	}

	history := []float64{2, 0, -2, -4, -6, -8}
	got := []rune(stripANSI(Residuals(history, -6, 4)))
	if len(got) != 4 {
		t.Fatalf("expected the last 4 entries, got %q", string(got))
	}
	if got[0] != '█' || got[3] != '▁' {
		t.Errorf("expected a falling sparkline, got %q", string(got))
	}
}

func TestBudget(t *testing.T) {
	for _, used := range []float64{-1, 0, 0.3, 0.7, 0.95, 2} {
		if n := utf8.RuneCountInString(stripANSI(Budget(used, 20))); n != 20 {
			t.Errorf("budget %.2f: expected width 20, got %d", used, n)
		}
	}
}

func stripANSI(s string) string {
	var b strings.Builder
	esc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			esc = true
		case esc:
			if r >= '@' && r <= '~' && r != '[' {
				esc = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
