package diffhash_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmerrifield20/auditchain/internal/digest"
	"github.com/jmerrifield20/auditchain/internal/diffhash"
)

func TestCompute_createOfSmallMapping(t *testing.T) {
	got := diffhash.Compute(nil, map[string]any{"a": 1, "b": 2})

	assert.Len(t, got, 64)
	assert.True(t, digest.IsHex(got))
	assert.Equal(t, "d63d7bb5e768a21345b678b906a38380bc8fc6619b9870ae6a92565012ffbf5b", got)
	assert.Equal(t, got, diffhash.Compute(nil, map[string]any{"a": 1, "b": 2}))
}

func TestCompute_orderInsensitive(t *testing.T) {
	a := diffhash.Compute(map[string]any{"b": 2, "a": 1}, map[string]any{"y": "n", "x": []int{1}})
	b := diffhash.Compute(map[string]any{"a": 1, "b": 2}, map[string]any{"x": []int{1}, "y": "n"})
	assert.Equal(t, a, b)
}

func TestCompute_nullEqualsAbsent(t *testing.T) {
	var absent map[string]any
	after := map[string]any{"status": "present"}

	assert.Equal(t, diffhash.Compute(nil, after), diffhash.Compute(json.RawMessage("null"), after))
	assert.Equal(t, diffhash.Compute(nil, after), diffhash.Compute(absent, after))
	assert.Equal(t, diffhash.Compute(after, nil), diffhash.Compute(after, absent))
}

func TestCompute_directionMatters(t *testing.T) {
	x := map[string]any{"status": "absent"}
	y := map[string]any{"status": "excused"}
	assert.NotEqual(t, diffhash.Compute(x, y), diffhash.Compute(y, x))
	assert.NotEqual(t, diffhash.Compute(nil, x), diffhash.Compute(x, nil))
}

func TestCompute_numericFormsAgree(t *testing.T) {
	assert.Equal(t,
		diffhash.Compute(nil, map[string]any{"amount": 10}),
		diffhash.Compute(nil, map[string]any{"amount": 10.0}),
	)
	assert.Equal(t,
		diffhash.Compute(nil, map[string]any{"amount": json.Number("10.00")}),
		diffhash.Compute(nil, map[string]any{"amount": 10}),
	)
}

func TestHasher_algorithm(t *testing.T) {
	def := diffhash.New("")
	assert.Equal(t, digest.SHA256, def.Algorithm())
	assert.Equal(t, diffhash.Compute(nil, 1), def.Compute(nil, 1))

	sha3 := diffhash.New(digest.SHA3_256)
	assert.NotEqual(t, def.Compute(nil, 1), sha3.Compute(nil, 1))
	assert.True(t, digest.IsHex(sha3.Compute(nil, 1)))
}

type scored struct {
	Student string  `json:"student"`
	Score   float64 `json:"score"`
}

func TestCompute_nonFiniteStructIsNotNull(t *testing.T) {
	nan := diffhash.Compute(nil, scored{Student: "s-1", Score: math.NaN()})
	assert.NotEqual(t, diffhash.Compute(nil, nil), nan)
	assert.NotEqual(t, diffhash.Compute(nil, scored{Student: "s-2", Score: math.NaN()}), nan)
	assert.Equal(t, diffhash.Compute(nil, map[string]any{"student": "s-1", "score": math.NaN()}), nan)
}
