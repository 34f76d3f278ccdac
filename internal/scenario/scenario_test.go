package scenario

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func staticBuilder(url string) Builder {
	return func(BuildContext) (*Request, error) {
		return &Request{Method: "GET", URL: url}, nil
	}
}

func def(name string, weight float64) Def {
	return Def{Name: name, Weight: weight, Build: staticBuilder("http://x/" + name)}
}

func TestSelect_ChiSquare(t *testing.T) {
	reg, err := New(def("a", 1), def("b", 2), def("c", 3), def("d", 4))
	require.NoError(t, err)

	const n = 100_000
	counts := map[string]int{}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		counts[reg.Select(rng).Name]++
	}

	var chi2 float64
	for _, name := range reg.Names() {
		expected := reg.Probability(name) * n
		diff := float64(counts[name]) - expected
		chi2 += diff * diff / expected
	}
	// critical value for 3 degrees of freedom at p=0.001
	require.Less(t, chi2, 16.27, "counts %v", counts)
}

func TestSelect_SingleScenario(t *testing.T) {
	reg, err := New(def("only", 0.5))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 100; i++ {
		require.Equal(t, "only", reg.Select(rng).Name)
	}
}

func TestSelect_SameSeedSameSequence(t *testing.T) {
	reg, err := New(def("vote-cats", 1), def("vote-dogs", 1), def("view-page", 1), def("onprem-route", 1))
	require.NoError(t, err)

	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		require.Equal(t, reg.Select(a).Name, reg.Select(b).Name)
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		defs []Def
	}{
		{"empty set", nil},
		{"empty name", []Def{def("", 1)}},
		{"zero weight", []Def{def("a", 0)}},
		{"negative weight", []Def{def("a", -1)}},
		{"NaN weight", []Def{def("a", math.NaN())}},
		{"infinite weight", []Def{def("a", math.Inf(1))}},
		{"duplicate", []Def{def("a", 1), def("a", 2)}},
		{"nil builder", []Def{{Name: "a", Weight: 1}}},
		{"nil predicate", []Def{{Name: "a", Weight: 1, Build: staticBuilder("/"), Checks: []Check{{Name: "c"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := New(tt.defs...)
			require.Nil(t, reg)
			require.True(t, errors.Is(err, ErrInvalidScenario), "got %v", err)
		})
	}
}

func TestNew_CopiesDefs(t *testing.T) {
	statuses := []int{200}
	defs := []Def{{Name: "a", Weight: 1, Build: staticBuilder("/"), ExpectStatus: statuses}}
	reg, err := New(defs...)
	require.NoError(t, err)

	statuses[0] = 500
	defs[0].Name = "changed"
	require.Equal(t, []string{"a"}, reg.Names())
	require.True(t, reg.Select(rand.New(rand.NewSource(1))).StatusExpected(200))
}

func TestStatusExpected(t *testing.T) {
	d := Def{}
	require.True(t, d.StatusExpected(200))
	require.True(t, d.StatusExpected(302))
	require.False(t, d.StatusExpected(404))
	require.False(t, d.StatusExpected(0))

	d.ExpectStatus = []int{200, 404}
	require.True(t, d.StatusExpected(404))
	require.False(t, d.StatusExpected(302))
}

func TestCheckNames(t *testing.T) {
	reg, err := New(
		Def{Name: "a", Weight: 1, Build: staticBuilder("/"), Checks: []Check{StatusIn(200), BodyContains("x")}},
		Def{Name: "b", Weight: 1, Build: staticBuilder("/"), Checks: []Check{StatusIn(200)}},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"status is 200", `body contains "x"`}, reg.CheckNames())
}

func rand1() *rand.Rand {
	return rand.New(rand.NewSource(1))
}
