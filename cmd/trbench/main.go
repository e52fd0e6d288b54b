// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command trbench runs the trust-region optimizer against a set of classic
// test problems and prints the iteration trace and final summary.
//
// Usage:
//
//	trbench -problem helical -method dogleg -v
//	trbench -problem badscale -config tuning.yaml
//
// The configuration file is a YAML rendering of trustregion.Config:
//
//	region-initial: 1.0
//	region-maximum: 1e10
//	gtol: 1e-8
//	ftol: 1e-12
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/curioloop/trustregion"
)

// model is a residual function with an analytic dense Jacobian.
type model struct {
	n, m int
	x    []float64
	res  func(x, r []float64)
	jac  func(x []float64, j *mat.Dense)
}

func (f *model) NumInputs() int        { return f.n }
func (f *model) NumOutputs() int       { return f.m }
func (f *model) SetInput(x []float64)  { copy(f.x, x) }
func (f *model) Residuals(r []float64) { f.res(f.x, r) }
func (f *model) Jacobian(j *mat.Dense) { f.jac(f.x, j) }

type problem struct {
	fn *model
	x0 []float64
}

var problems = map[string]func() problem{

	"linear": func() problem {
		fn := &model{n: 2, m: 2, x: make([]float64, 2),
			res: func(x, r []float64) {
				r[0] = x[0] - 2
				r[1] = x[1] - 0.1
			},
			jac: func(x []float64, j *mat.Dense) {
				j.Set(0, 0, 1)
				j.Set(0, 1, 0)
				j.Set(1, 0, 0)
				j.Set(1, 1, 1)
			}}
		return problem{fn, []float64{1, 0.5}}
	},

	"rosenbrock": func() problem {
		fn := &model{n: 2, m: 2, x: make([]float64, 2),
			res: func(x, r []float64) {
				r[0] = 10 * (x[1] - x[0]*x[0])
				r[1] = 1 - x[0]
			},
			jac: func(x []float64, j *mat.Dense) {
				j.Set(0, 0, -20*x[0])
				j.Set(0, 1, 10)
				j.Set(1, 0, -1)
				j.Set(1, 1, 0)
			}}
		return problem{fn, []float64{-1.2, 1}}
	},

	"helical": func() problem {
		fn := &model{n: 3, m: 3, x: make([]float64, 3),
			res: func(x, r []float64) {
				theta := math.Atan2(x[1], x[0]) / (2 * math.Pi)
				r[0] = 10 * (x[2] - 10*theta)
				r[1] = 10 * (math.Hypot(x[0], x[1]) - 1)
				r[2] = x[2]
			},
			jac: func(x []float64, j *mat.Dense) {
				rho2 := x[0]*x[0] + x[1]*x[1]
				rho := math.Sqrt(rho2)
				j.Set(0, 0, 100*x[1]/(2*math.Pi*rho2))
				j.Set(0, 1, -100*x[0]/(2*math.Pi*rho2))
				j.Set(0, 2, 10)
				j.Set(1, 0, 10*x[0]/rho)
				j.Set(1, 1, 10*x[1]/rho)
				j.Set(1, 2, 0)
				j.Set(2, 0, 0)
				j.Set(2, 1, 0)
				j.Set(2, 2, 1)
			}}
		return problem{fn, []float64{-1, 0, 0}}
	},

	"powell": func() problem {
		fn := &model{n: 4, m: 4, x: make([]float64, 4),
			res: func(x, r []float64) {
				r[0] = x[0] + 10*x[1]
				r[1] = math.Sqrt(5) * (x[2] - x[3])
				r[2] = (x[1] - 2*x[2]) * (x[1] - 2*x[2])
				r[3] = math.Sqrt(10) * (x[0] - x[3]) * (x[0] - x[3])
			},
			jac: func(x []float64, j *mat.Dense) {
				j.Zero()
				j.Set(0, 0, 1)
				j.Set(0, 1, 10)
				j.Set(1, 2, math.Sqrt(5))
				j.Set(1, 3, -math.Sqrt(5))
				j.Set(2, 1, 2*(x[1]-2*x[2]))
				j.Set(2, 2, -4*(x[1]-2*x[2]))
				j.Set(3, 0, 2*math.Sqrt(10)*(x[0]-x[3]))
				j.Set(3, 3, -2*math.Sqrt(10)*(x[0]-x[3]))
			}}
		return problem{fn, []float64{3, -1, 0, 1}}
	},

	"badscale": func() problem {
		fn := &model{n: 2, m: 2, x: make([]float64, 2),
			res: func(x, r []float64) {
				r[0] = 1e4*x[0] - 2
				r[1] = 1e-3*x[1] - 3
			},
			jac: func(x []float64, j *mat.Dense) {
				j.Set(0, 0, 1e4)
				j.Set(0, 1, 0)
				j.Set(1, 0, 0)
				j.Set(1, 1, 1e-3)
			}}
		return problem{fn, []float64{0, 0}}
	},
}

func main() {
	var (
		name    string
		method  string
		cfgFile string
		maxIter int
		fmin    float64
		verbose bool
	)
	flag.StringVar(&name, "problem", "rosenbrock", "test problem (linear, rosenbrock, helical, powell, badscale)")
	flag.StringVar(&method, "method", "dogleg", "update strategy (cauchy, dogleg)")
	flag.StringVar(&cfgFile, "config", "", "YAML tuning file")
	flag.IntVar(&maxIter, "max-iter", 500, "iteration cap")
	flag.Float64Var(&fmin, "fmin", 0, "minimum possible function value")
	flag.BoolVar(&verbose, "v", false, "print one line per iteration")
	flag.Parse()

	build, ok := problems[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown problem %q\n", name)
		os.Exit(2)
	}

	var m trustregion.Method
	switch method {
	case "cauchy":
		m = trustregion.MethodCauchy
	case "dogleg":
		m = trustregion.MethodDogleg
	default:
		fmt.Fprintf(os.Stderr, "unknown method %q\n", method)
		os.Exit(2)
	}

	cfg := trustregion.DefaultConfig()
	if cfgFile != "" {
		raw, err := os.ReadFile(cfgFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "bad config: %v\n", err)
			os.Exit(1)
		}
	}
	if name == "badscale" && !flagSet("config") {
		// the badly scaled problem is the showcase for diagonal scaling
		cfg.ScalingMin, cfg.ScalingMax = 1e-4, 1e4
	}

	prob := build()
	opt, err := (&trustregion.LeastSquaresProblem{
		Function: prob.fn,
		Method:   m,
		Config:   cfg,
	}).New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opt.SetVerbose(verbose)

	if err := opt.Initialize(prob.x0, fmin); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	converged, err := opt.Minimize(maxIter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("           * * *")
	fmt.Println("Tfs   = total number of full steps")
	fmt.Println("Trt   = total number of retries")
	fmt.Println("F     = final function value")
	fmt.Println()
	fmt.Printf("%-12s %5s %6s %6s %14s\n", "problem", "conv", "Tfs", "Trt", "F")
	fmt.Printf("%-12s %5v %6d %6d %14.6e\n", name, converged,
		opt.TotalFullSteps(), opt.TotalRetries(), opt.Fx())
	fmt.Printf("\n X =")
	for _, v := range opt.X() {
		fmt.Printf(" %.6e", v)
	}
	fmt.Println()
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
