package canonical_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/auditchain/internal/canonical"
)

func TestMarshal_sortsKeys(t *testing.T) {
	a := canonical.Encode(map[string]any{"b": 2, "a": 1})
	b := canonical.Encode(map[string]any{"a": 1, "b": 2})

	assert.Equal(t, `{"a":1,"b":2}`, string(a))
	assert.Equal(t, a, b)
	assert.Equal(t, []string{"a", "b"}, canonical.Canonicalize(map[string]any{"b": 2, "a": 1}).Keys())
}

func TestMarshal_nestedOrderInsensitive(t *testing.T) {
	x := map[string]any{
		"student": map[string]any{"name": "Ada", "id": "s-1"},
		"marks":   []any{map[string]any{"z": true, "y": nil}},
	}
	y := map[string]any{
		"marks":   []any{map[string]any{"y": nil, "z": true}},
		"student": map[string]any{"id": "s-1", "name": "Ada"},
	}
	assert.Equal(t, string(canonical.Encode(x)), string(canonical.Encode(y)))
	assert.Equal(t, `{"marks":[{"y":null,"z":true}],"student":{"id":"s-1","name":"Ada"}}`, string(canonical.Encode(x)))
}

func TestSequence_keepsOrder(t *testing.T) {
	assert.NotEqual(t, canonical.Encode([]int{1, 2}), canonical.Encode([]int{2, 1}))
}

func TestNullAndAbsent(t *testing.T) {
	var nilMap map[string]any
	var nilPtr *struct{ A int }
	var nilSlice []string

	for name, v := range map[string]any{
		"nil":       nil,
		"nil map":   nilMap,
		"nil ptr":   nilPtr,
		"nil slice": nilSlice,
		"raw null":  json.RawMessage("null"),
	} {
		n := canonical.Canonicalize(v)
		assert.True(t, n.IsNull(), name)
		assert.Equal(t, "null", string(canonical.Marshal(n)), name)
	}
}

func TestNumbers_normalised(t *testing.T) {
	want := canonical.Encode(1)
	for _, v := range []any{1.0, float32(1), int64(1), uint8(1), json.Number("1.0"), json.Number("1e0")} {
		assert.Equal(t, string(want), string(canonical.Encode(v)), "%T %v", v, v)
	}

	assert.Equal(t, "0.5", string(canonical.Encode(0.5)))
	assert.Equal(t, "0", string(canonical.Encode(math.Copysign(0, -1))))
	assert.Equal(t, "1000000000000000000000", string(canonical.Encode(1e21)))
	assert.Equal(t, string(canonical.Encode(1e21)), string(canonical.Encode(json.Number("1e21"))))
}

func TestNumbers_bigIntegersKeepDigits(t *testing.T) {
	assert.Equal(t, "123456789012345678901234567890", string(canonical.Encode(json.Number("123456789012345678901234567890"))))
	assert.Equal(t, "18446744073709551615", string(canonical.Encode(uint64(math.MaxUint64))))
}

func TestNonFinite_becomesText(t *testing.T) {
	assert.Equal(t, `"NaN"`, string(canonical.Encode(math.NaN())))
	assert.Equal(t, `"+Inf"`, string(canonical.Encode(math.Inf(1))))
	assert.Equal(t, `"-Inf"`, string(canonical.Encode(math.Inf(-1))))
}

type audited struct {
	Base
	Student string     `json:"student"`
	Score   float64    `json:"score"`
	Note    string     `json:"note,omitempty"`
	Hidden  string     `json:"-"`
	Notify  chan int   `json:"notify"`
	Raw     float32
	secret  string
}

type Base struct {
	Tenant  string `json:"tenant"`
	Student string `json:"student"`
}

func TestNonFiniteStructField_keepsOtherFields(t *testing.T) {
	v := audited{
		Base:    Base{Tenant: "T", Student: "shadowed"},
		Student: "s-1",
		Score:   math.NaN(),
		Hidden:  "x",
		Raw:     float32(math.Inf(-1)),
		secret:  "y",
	}
	assert.Equal(t,
		`{"Raw":"-Inf","notify":null,"score":"NaN","student":"s-1","tenant":"T"}`,
		string(canonical.Encode(v)))
	assert.Equal(t, canonical.Encode(&v), canonical.Encode(v))

	v.Score = math.Inf(1)
	assert.NotEqual(t, canonical.Encode(audited{Score: math.NaN()}), canonical.Encode(v))
	assert.False(t, canonical.Canonicalize(audited{Score: math.NaN()}).IsNull())
}

func TestOutsideJSONDomain_becomesNull(t *testing.T) {
	assert.True(t, canonical.Canonicalize(make(chan int)).IsNull())
	assert.True(t, canonical.Canonicalize(func() {}).IsNull())
	assert.True(t, canonical.Canonicalize(complex(1, 2)).IsNull())
	assert.Equal(t, `{"f":null,"n":1}`, string(canonical.Encode(map[string]any{"f": func() {}, "n": 1})))
}

type mark struct {
	Student string     `json:"student"`
	Status  string     `json:"status"`
	Note    string     `json:"note,omitempty"`
	At      time.Time  `json:"at"`
	Excused *bool      `json:"excused"`
	Tags    []string   `json:"tags"`
	Extra   *time.Time `json:"extra,omitempty"`
}

func TestStructs_followJSONTags(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	got := canonical.Encode(mark{Student: "s-1", Status: "present", At: at})

	assert.Equal(t, `{"at":"2026-03-01T08:30:00Z","excused":null,"status":"present","student":"s-1","tags":null}`, string(got))
	assert.Equal(t, string(got), string(canonical.Encode(&mark{Student: "s-1", Status: "present", At: at})))
}

func TestBytes_base64(t *testing.T) {
	assert.Equal(t, `"aGk="`, string(canonical.Encode([]byte("hi"))))
}

func TestMapKeys_renderedLikeJSON(t *testing.T) {
	assert.Equal(t, `{"1":"a","2":"b"}`, string(canonical.Encode(map[int]string{2: "b", 1: "a"})))
}

func TestStrings_noHTMLEscaping(t *testing.T) {
	assert.Equal(t, `"<a & b>"`, string(canonical.Encode("<a & b>")))
	assert.Equal(t, `"line\nbreak \"q\""`, string(canonical.Encode("line\nbreak \"q\"")))
}

func TestNode_JSONRoundTrip(t *testing.T) {
	in := canonical.Canonicalize(map[string]any{
		"n":   12.5,
		"big": json.Number("90071992547409930"),
		"s":   []any{"x", true, nil},
	})
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out canonical.Node
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, in.Equal(out))
	assert.Equal(t, string(raw), string(canonical.Marshal(out)))
}

func TestNode_inStructField(t *testing.T) {
	type wrapper struct {
		Content canonical.Node `json:"content"`
	}
	w := wrapper{Content: canonical.Canonicalize(map[string]any{"b": 1, "a": 2})}
	raw, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, `{"content":{"a":2,"b":1}}`, string(raw))

	var back wrapper
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, w.Content.Equal(back.Content))
}

func TestFromValue_nodePassthrough(t *testing.T) {
	inner := canonical.Mapping(map[string]canonical.Node{"k": canonical.Text("v")})
	got := canonical.Encode(map[string]any{"wrapped": inner, "ptr": &inner})
	assert.Equal(t, `{"ptr":{"k":"v"},"wrapped":{"k":"v"}}`, string(got))
}

func TestNumber_invalidLiteralIsText(t *testing.T) {
	n := canonical.Number("twelve")
	assert.Equal(t, canonical.KindText, n.Kind())
	assert.Equal(t, "twelve", n.AsText())
}

func TestPatch(t *testing.T) {
	base := canonical.Canonicalize(map[string]any{"status": "absent", "note": "sick"})
	got := canonical.Patch(base, map[string]any{"status": "excused", "reason": nil})

	assert.Equal(t, `{"note":"sick","reason":null,"status":"excused"}`, string(canonical.Marshal(got)))
	assert.Equal(t, `{"note":"sick","status":"absent"}`, string(canonical.Marshal(base)))
}

func TestInterface(t *testing.T) {
	n := canonical.Canonicalize(map[string]any{"a": 1, "b": []any{"x"}})
	v, ok := n.Interface().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), v["a"])
	assert.Equal(t, []any{"x"}, v["b"])
}
