package numdiff

import (
	"math"
	"testing"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/trustregion"
)

// residual model r₀ = x₀·sin(x₁), r₁ = x₁·cos(x₀), r₂ = x₀³/√x₁
type trigModel struct{ x [2]float64 }

func (f *trigModel) NumInputs() int       { return 2 }
func (f *trigModel) NumOutputs() int      { return 3 }
func (f *trigModel) SetInput(x []float64) { copy(f.x[:], x) }

func (f *trigModel) Residuals(r []float64) {
	x, y := f.x[0], f.x[1]
	r[0] = x * math.Sin(y)
	r[1] = y * math.Cos(x)
	r[2] = math.Pow(x, 3) / math.Sqrt(y)
}

func (f *trigModel) analytic(jac *mat.Dense) {
	x, y := f.x[0], f.x[1]
	jac.Set(0, 0, math.Sin(y))
	jac.Set(0, 1, x*math.Cos(y))
	jac.Set(1, 0, -y*math.Sin(x))
	jac.Set(1, 1, math.Cos(x))
	jac.Set(2, 0, 3*x*x/math.Sqrt(y))
	jac.Set(2, 1, -0.5*math.Pow(x, 3)*math.Pow(y, -1.5))
}

func TestForwardDense(t *testing.T) {

	fn := new(trigModel)
	wrap := WrapDense(fn)

	x := []float64{1.3, 0.7}
	wrap.SetInput(x)

	got := mat.NewDense(3, 2, nil)
	wrap.Jacobian(got)

	fn.SetInput(x)
	want := mat.NewDense(3, 2, nil)
	fn.analytic(want)

	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			w := want.At(i, j)
			if math.Abs(got.At(i, j)-w) > 1e-6*math.Max(1, math.Abs(w)) {
				t.Fatalf("TestForwardDense: J[%d,%d] = %v want %v", i, j, got.At(i, j), w)
			}
		}
	}

	// the wrapper must leave the model at the input state
	r := make([]float64, 3)
	wrap.Residuals(r)
	want0 := []float64{x[0] * math.Sin(x[1]), x[1] * math.Cos(x[0]), math.Pow(x[0], 3) / math.Sqrt(x[1])}
	for i := range r {
		if math.Abs(r[i]-want0[i]) > 1e-12 {
			t.Fatalf("TestForwardDense: State Not Restored r = %v", r)
		}
	}
}

func TestForwardSchur(t *testing.T) {

	fn := new(trigModel)
	wrap := WrapSchur(fn, 1)

	if wrap.NumLeft() != 1 {
		t.Fatal("TestForwardSchur: Bad Split")
	}

	x := []float64{1.3, 0.7}
	wrap.SetInput(x)

	left := sparse.NewDOK(3, 1)
	right := sparse.NewDOK(3, 1)
	wrap.Jacobian(left, right)

	dense := WrapDense(new(trigModel))
	dense.SetInput(x)
	want := mat.NewDense(3, 2, nil)
	dense.Jacobian(want)

	for i := 0; i < 3; i++ {
		if got := left.At(i, 0); math.Abs(got-want.At(i, 0)) > 1e-12 {
			t.Fatalf("TestForwardSchur: Left[%d] = %v want %v", i, got, want.At(i, 0))
		}
		if got := right.At(i, 0); math.Abs(got-want.At(i, 1)) > 1e-12 {
			t.Fatalf("TestForwardSchur: Right[%d] = %v want %v", i, got, want.At(i, 1))
		}
	}
}

// plain Rosenbrock residuals without an analytic Jacobian
type rosenbrockModel struct{ x [2]float64 }

func (f *rosenbrockModel) NumInputs() int       { return 2 }
func (f *rosenbrockModel) NumOutputs() int      { return 2 }
func (f *rosenbrockModel) SetInput(x []float64) { copy(f.x[:], x) }

func (f *rosenbrockModel) Residuals(r []float64) {
	r[0] = 10 * (f.x[1] - f.x[0]*f.x[0])
	r[1] = 1 - f.x[0]
}

func TestForwardOptimize(t *testing.T) {

	cfg := trustregion.DefaultConfig()
	cfg.GTol = 1e-8

	opt, err := (&trustregion.LeastSquaresProblem{
		Function: WrapDense(new(rosenbrockModel)),
		Method:   trustregion.MethodDogleg,
		Config:   cfg,
	}).New()
	if err != nil {
		t.Fatal(err)
	}

	if err := opt.Initialize([]float64{-1.2, 1}, 0); err != nil {
		t.Fatal(err)
	}
	converged, err := opt.Minimize(200)
	switch {
	case err != nil:
		t.Fatal(err)
	case !converged:
		t.Fatal("TestForwardOptimize: Not Converge")
	}

	x := opt.X()
	if math.Abs(x[0]-1) > 1e-4 || math.Abs(x[1]-1) > 1e-4 {
		t.Fatalf("TestForwardOptimize: x = %v", x)
	}
}
