// Package posterior has the statistical plumbing for fitting models to
// photon counts: priors, a Poisson likelihood, and maximizers that find
// the peak of the resulting posterior.
package posterior

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

type Kind int

const (
	KindUniform Kind = iota
	KindGaussian
	KindJoint
)

func (k Kind) String() string {
	switch k {
	case KindUniform:
		return "uniform"
	case KindGaussian:
		return "gaussian"
	case KindJoint:
		return "joint"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// A Prior is a probability density over a parameter vector. It is one of
// Uniform, Gaussian (both over a single parameter) or Joint, which stacks
// independent priors end to end.
type Prior interface {
	Kind() Kind
	Dim() int

	// LogProb is -Inf outside the prior's support
	LogProb(x []float64) float64

	Mean() []float64

	// Clamp returns a copy of x pulled back inside the support.
	Clamp(x []float64) []float64

	// Scale is a typical size for each parameter; the width of a uniform
	// prior, the std dev of a gaussian.
	Scale() []float64

	String() string
}

// Uniform over [Lower,Upper].
type Uniform struct {
	Lower float64
	Upper float64
}

func (u Uniform) Kind() Kind                  { return KindUniform }
func (u Uniform) Dim() int                    { return 1 }
func (u Uniform) Mean() []float64             { return []float64{(u.Lower + u.Upper) / 2} }
func (u Uniform) Scale() []float64            { return []float64{u.Upper - u.Lower} }
func (u Uniform) LogProb(x []float64) float64 { return distuv.Uniform{Min: u.Lower, Max: u.Upper}.LogProb(x[0]) }
func (u Uniform) String() string              { return fmt.Sprintf("U[%g,%g]", u.Lower, u.Upper) }

func (u Uniform) Clamp(x []float64) []float64 {
	return []float64{math.Max(u.Lower, math.Min(u.Upper, x[0]))}
}

// Gaussian with mean Mu and variance Var (not std dev).
type Gaussian struct {
	Mu  float64
	Var float64
}

func (g Gaussian) Kind() Kind                  { return KindGaussian }
func (g Gaussian) Dim() int                    { return 1 }
func (g Gaussian) Mean() []float64             { return []float64{g.Mu} }
func (g Gaussian) Scale() []float64            { return []float64{math.Sqrt(g.Var)} }
func (g Gaussian) Clamp(x []float64) []float64 { return []float64{x[0]} }
func (g Gaussian) String() string              { return fmt.Sprintf("N(%g,%g)", g.Mu, g.Var) }

func (g Gaussian) LogProb(x []float64) float64 {
	return distuv.Normal{Mu: g.Mu, Sigma: math.Sqrt(g.Var)}.LogProb(x[0])
}

// Joint is a product of independent priors, each taking the next Dim()
// parameters of the vector.
type Joint struct {
	Parts []Prior
}

func NewJoint(parts ...Prior) Joint { return Joint{Parts: parts} }

func (j Joint) Kind() Kind { return KindJoint }

func (j Joint) Dim() int {
	n := 0
	for _, p := range j.Parts {
		n += p.Dim()
	}
	return n
}

func (j Joint) LogProb(x []float64) float64 {
	lp, off := 0.0, 0
	for _, p := range j.Parts {
		lp += p.LogProb(x[off : off+p.Dim()])
		off += p.Dim()
	}
	return lp
}

func (j Joint) each(x []float64, f func(p Prior, x []float64) []float64) []float64 {
	out, off := []float64{}, 0
	for _, p := range j.Parts {
		var sub []float64
		if x != nil {
			sub = x[off : off+p.Dim()]
		}
		out = append(out, f(p, sub)...)
		off += p.Dim()
	}
	return out
}

func (j Joint) Mean() []float64 {
	return j.each(nil, func(p Prior, _ []float64) []float64 { return p.Mean() })
}

func (j Joint) Scale() []float64 {
	return j.each(nil, func(p Prior, _ []float64) []float64 { return p.Scale() })
}

func (j Joint) Clamp(x []float64) []float64 {
	return j.each(x, func(p Prior, sub []float64) []float64 { return p.Clamp(sub) })
}

func (j Joint) String() string {
	strs := []string{}
	for _, p := range j.Parts {
		strs = append(strs, p.String())
	}
	return "Joint(" + strings.Join(strs, ", ") + ")"
}

// Validate checks the prior is a proper density.
func Validate(p Prior) error {
	switch v := p.(type) {
	case Uniform:
		if !(v.Lower < v.Upper) {
			return errors.Errorf("uniform prior %s: lower bound must be below upper", v)
		}
	case Gaussian:
		if !(v.Var > 0) {
			return errors.Errorf("gaussian prior %s: variance must be positive", v)
		}
	case Joint:
		if len(v.Parts) == 0 {
			return errors.New("empty joint prior")
		}
		for i, part := range v.Parts {
			if err := Validate(part); err != nil {
				return errors.Wrapf(err, "part %d", i)
			}
		}
	default:
		return errors.Errorf("prior kind %s not known", p.Kind())
	}
	return nil
}
