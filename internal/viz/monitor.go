package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/trajopt/internal/nlp"
	"github.com/san-kum/trajopt/internal/trajopt"
)

const historyCapacity = 200

type (
	IterationMsg nlp.IterationStats
	SolveMsg     struct {
		Status     nlp.Status
		Rejections int
		Elapsed    time.Duration
	}
	RoundMsg struct {
		Points   int
		MaxError float64
	}
	DoneMsg struct {
		Result *trajopt.Result
		Err    error
	}
)

// Feed turns observer callbacks into messages for a Monitor. It satisfies
// trajopt.Observer. Sends block until the monitor reads them or stops.
type Feed struct {
	ch   chan tea.Msg
	stop chan struct{}
	once sync.Once
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan tea.Msg, 64), stop: make(chan struct{})}
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.ch <- msg:
	case <-f.stop:
	}
}

func (f *Feed) ObserveIteration(stats nlp.IterationStats) { f.send(IterationMsg(stats)) }

func (f *Feed) ObserveSolve(status nlp.Status, rejections int, elapsed time.Duration) {
	f.send(SolveMsg{Status: status, Rejections: rejections, Elapsed: elapsed})
}

func (f *Feed) ObserveRound(points int, maxError float64) {
	f.send(RoundMsg{Points: points, MaxError: maxError})
}

// Done delivers the final result.
func (f *Feed) Done(res *trajopt.Result, err error) { f.send(DoneMsg{Result: res, Err: err}) }

// Close releases any sender blocked on a monitor that has gone away.
func (f *Feed) Close() { f.once.Do(func() { close(f.stop) }) }

func (f *Feed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-f.ch:
			return msg
		case <-f.stop:
			return nil
		}
	}
}

// Monitor follows a running solve: iteration count, infeasibilities,
// barrier parameter and refinement rounds.
type Monitor struct {
	name    string
	maxIter int
	logTol  float64
	feed    *Feed
	cancel  context.CancelFunc

	round     int
	last      nlp.IterationStats
	infPr     []float64
	infDu     []float64
	rounds    []RoundMsg
	solves    []SolveMsg
	done      bool
	cancelled bool
	res       *trajopt.Result
	err       error
}

// NewMonitor builds a monitor reading from feed. cancel is called when the
// user quits before the solve finishes.
func NewMonitor(name string, maxIter int, tol float64, feed *Feed, cancel context.CancelFunc) Monitor {
	return Monitor{
		name:    name,
		maxIter: maxIter,
		logTol:  math.Log10(math.Max(tol, 1e-16)),
		feed:    feed,
		cancel:  cancel,
		infPr:   make([]float64, 0, historyCapacity),
		infDu:   make([]float64, 0, historyCapacity),
	}
}

func (m Monitor) Init() tea.Cmd { return m.feed.wait() }

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancelled {
				return m, nil
			}
			if !m.done && m.cancel != nil {
				m.cancel()
				m.cancelled = true
				return m, m.feed.wait()
			}
			return m, tea.Quit
		}
		return m, nil
	case IterationMsg:
		m.last = nlp.IterationStats(msg)
		m.infPr = pushHistory(m.infPr, msg.InfPr)
		m.infDu = pushHistory(m.infDu, msg.InfDu)
		return m, m.feed.wait()
	case SolveMsg:
		m.solves = append(m.solves, msg)
		return m, m.feed.wait()
	case RoundMsg:
		m.rounds = append(m.rounds, msg)
		m.round++
		m.infPr = m.infPr[:0]
		m.infDu = m.infDu[:0]
		return m, m.feed.wait()
	case DoneMsg:
		m.done = true
		m.res, m.err = msg.Result, msg.Err
		m.feed.Close()
		return m, tea.Quit
	}
	return m, nil
}

// Result is the outcome delivered by the solve, once done.
func (m Monitor) Result() (*trajopt.Result, error) { return m.res, m.err }

func pushHistory(h []float64, v float64) []float64 {
	if len(h) == historyCapacity {
		copy(h, h[1:])
		h = h[:len(h)-1]
	}
	// Plot orders of magnitude.
	return append(h, math.Log10(math.Max(v, 1e-16)))
}

func (m Monitor) View() string {
	var b strings.Builder
	b.WriteString(Title.Render("trajopt " + m.name))
	b.WriteString("\n\n")

	state := StatusOK.Render("solving")
	switch {
	case m.done && m.err != nil:
		state = StatusFail.Render("failed")
	case m.done:
		state = StatusOK.Render("done")
	case m.cancelled:
		state = StatusWarn.Render("stopping")
	}
	row(&b, "state", state)
	row(&b, "round", fmt.Sprintf("%d", m.round+1))
	row(&b, "iteration", fmt.Sprintf("%d", m.last.Iteration))
	row(&b, "objective", fmt.Sprintf("%.8g", m.last.Objective))
	row(&b, "inf_pr", fmt.Sprintf("%.2e", m.last.InfPr))
	row(&b, "inf_du", fmt.Sprintf("%.2e", m.last.InfDu))
	row(&b, "mu", fmt.Sprintf("%.2e", m.last.Mu))
	row(&b, "rejections", fmt.Sprintf("%d", m.last.Rejections))

	if m.maxIter > 0 {
		b.WriteString(Budget(float64(m.last.Iteration)/float64(m.maxIter), 40))
		b.WriteString("\n")
	}
	b.WriteString(Label.Render("log inf_pr "))
	b.WriteString(Residuals(m.infPr, m.logTol, 40))
	b.WriteString("\n")
	b.WriteString(Label.Render("log inf_du "))
	b.WriteString(Residuals(m.infDu, m.logTol, 40))
	b.WriteString("\n")

	for i, rd := range m.rounds {
		fmt.Fprintf(&b, "%s %d points, max error %.2e\n", Subtle.Render(fmt.Sprintf("round %d", i+1)), rd.Points, rd.MaxError)
	}

	b.WriteString("\n")
	b.WriteString(KeyHint.Render("q: stop"))
	return Panel.Render(b.String())
}

// RunMonitor runs solve in the background and follows it in the terminal
// until it finishes or the user quits.
func RunMonitor(ctx context.Context, name string, maxIter int, tol float64, solve func(ctx context.Context, obs trajopt.Observer) (*trajopt.Result, error)) (*trajopt.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := NewFeed()
	defer feed.Close()
	go func() {
		res, err := solve(ctx, feed)
		feed.Done(res, err)
	}()

	final, err := tea.NewProgram(NewMonitor(name, maxIter, tol, feed, cancel)).Run()
	if err != nil {
		return nil, err
	}
	return final.(Monitor).Result()
}
