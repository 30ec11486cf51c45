// Package rating updates TrueSkill ratings after a free-for-all match of
// single-bot teams, with no draws and no dynamic skill drift.
package rating

import (
	"math"
	"sort"
)

// Default TrueSkill parameters.
const (
	Mu    = 25.0
	Sigma = Mu / 3
	Beta  = Sigma / 2
)

const (
	maxIterations = 10
	minDelta      = 1e-4
)

// Rating is a skill estimate.
type Rating struct {
	Mu    float64
	Sigma float64
}

// Default is the rating of a bot that has not played.
func Default() Rating { return Rating{Mu: Mu, Sigma: Sigma} }

// Score is the conservative estimate used for leaderboards.
func (r Rating) Score() float64 { return r.Mu - 3*r.Sigma }

// gaussian in natural parameters: pi = 1/variance, tau = mean/variance.
type gaussian struct{ pi, tau float64 }

func fromMeanVar(mean, variance float64) gaussian {
	return gaussian{pi: 1 / variance, tau: mean / variance}
}

func (g gaussian) mul(o gaussian) gaussian { return gaussian{g.pi + o.pi, g.tau + o.tau} }
func (g gaussian) div(o gaussian) gaussian { return gaussian{g.pi - o.pi, g.tau - o.tau} }
func (g gaussian) mean() float64           { return g.tau / g.pi }
func (g gaussian) variance() float64       { return 1 / g.pi }
func (g gaussian) uniform() bool           { return g.pi <= 0 }

func pdf(x float64) float64 { return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi) }
func cdf(x float64) float64 { return math.Erfc(-x/math.Sqrt2) / 2 }

// vWin and wWin are the additive and multiplicative corrections of a
// Gaussian truncated to positive values.
func vWin(t float64) float64 {
	d := cdf(t)
	if d < 1e-300 {
		return -t
	}
	return pdf(t) / d
}

func wWin(t float64) float64 {
	v := vWin(t)
	return v * (v + t)
}

// Rate returns updated ratings given each player's finishing rank (lower is
// better). Players with equal ranks are ordered by their position in the
// input, since a zero draw probability gives ties no likelihood. The result
// is in input order. Fewer than two players leaves ratings unchanged.
func Rate(players []Rating, ranks []int) []Rating {
	out := make([]Rating, len(players))
	copy(out, players)
	n := len(players)
	if n < 2 || len(ranks) != n {
		return out
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return ranks[order[a]] < ranks[order[b]] })

	// prior[i] is the performance belief of the i-th finisher before the
	// match outcome is applied.
	prior := make([]gaussian, n)
	for i, p := range order {
		r := players[p]
		prior[i] = fromMeanVar(r.Mu, r.Sigma*r.Sigma+Beta*Beta)
	}

	// Difference j = perf[j] - perf[j+1] is constrained to be positive.
	// toLeft[j]/toRight[j] are the sum factor's messages to perf[j] and
	// perf[j+1]; trunc[j] is the truncation factor's message to diff j.
	toLeft := make([]gaussian, n-1)
	toRight := make([]gaussian, n-1)
	trunc := make([]gaussian, n-1)

	perf := func(i int) gaussian {
		g := prior[i]
		if i > 0 {
			g = g.mul(toRight[i-1])
		}
		if i < n-1 {
			g = g.mul(toLeft[i])
		}
		return g
	}

	// down computes the sum factor's message to diff j.
	down := func(j int) gaussian {
		a := perf(j).div(toLeft[j])
		b := perf(j + 1).div(toRight[j])
		return fromMeanVar(a.mean()-b.mean(), a.variance()+b.variance())
	}

	// truncate updates trunc[j] from the incoming diff message and returns
	// the size of the change.
	truncate := func(j int, in gaussian) float64 {
		sqrtPi := math.Sqrt(in.pi)
		t := in.tau / sqrtPi
		v, w := vWin(t), wWin(t)
		marginal := gaussian{pi: in.pi / (1 - w), tau: (in.tau + sqrtPi*v) / (1 - w)}
		next := marginal.div(in)
		delta := math.Max(math.Abs(next.tau-trunc[j].tau), math.Sqrt(math.Abs(next.pi-trunc[j].pi)))
		trunc[j] = next
		return delta
	}

	// up sends the sum factor's message back to one side of diff j.
	up := func(j int, left bool) {
		diff := trunc[j]
		if diff.uniform() {
			return
		}
		if left {
			b := perf(j + 1).div(toRight[j])
			toLeft[j] = fromMeanVar(diff.mean()+b.mean(), diff.variance()+b.variance())
			return
		}
		a := perf(j).div(toLeft[j])
		toRight[j] = fromMeanVar(a.mean()-diff.mean(), a.variance()+diff.variance())
	}

	for iter := 0; iter < maxIterations; iter++ {
		delta := 0.0
		if n == 2 {
			delta = truncate(0, down(0))
		} else {
			for j := 0; j < n-2; j++ {
				delta = math.Max(delta, truncate(j, down(j)))
				up(j, false)
			}
			for j := n - 2; j > 0; j-- {
				delta = math.Max(delta, truncate(j, down(j)))
				up(j, true)
			}
		}
		if delta <= minDelta {
			break
		}
	}
	up(0, true)
	up(n-2, false)

	for i, p := range order {
		msg := perf(i).div(prior[i])
		if msg.uniform() {
			continue
		}
		r := players[p]
		like := fromMeanVar(msg.mean(), msg.variance()+Beta*Beta)
		post := fromMeanVar(r.Mu, r.Sigma*r.Sigma).mul(like)
		out[p] = Rating{Mu: post.mean(), Sigma: math.Sqrt(post.variance())}
	}
	return out
}
