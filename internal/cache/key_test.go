package cache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

type cyclicNode struct {
	Name string
	Next *cyclicNode
}

type panickyParams struct{}

func (panickyParams) MarshalJSON() ([]byte, error) { panic("boom") }

func TestGenerateKey_Layout(t *testing.T) {
	assert.Equal(t, "profile:u1::0", GenerateKey("profile", "u1", nil))
	assert.Equal(t, "::"+":"+KeyGeneration, GenerateKey("", "", nil))
}

func TestGenerateKey_Deterministic(t *testing.T) {
	p1 := map[string]any{"id": 1, "name": "x"}
	p2 := map[string]any{"id": 2, "name": "y"}

	assert.Equal(t, GenerateKey("n", "k", p1), GenerateKey("n", "k", p1))
	assert.NotEqual(t, GenerateKey("n", "k", p1), GenerateKey("n", "k", p2))
}

func TestGenerateKey_AbsentParams(t *testing.T) {
	var nilMap map[string]any
	var nilPtr *struct{ ID int }

	none := GenerateKey("n", "k", nil)
	assert.Equal(t, none, GenerateKey("n", "k", nilMap), "typed nil map is absent")
	assert.Equal(t, none, GenerateKey("n", "k", nilPtr), "typed nil pointer is absent")
	assert.NotEqual(t, none, GenerateKey("n", "k", map[string]any{}), "{} differs from no params")
}

func TestGenerateKey_OrderIndependent(t *testing.T) {
	a := map[string]any{}
	a["page"] = 2
	a["filter"] = map[string]any{"tag": "go", "author": "ann"}

	b := map[string]any{}
	b["filter"] = map[string]any{"author": "ann", "tag": "go"}
	b["page"] = 2

	assert.Equal(t, GenerateKey("posts", "list", a), GenerateKey("posts", "list", b))
}

func TestGenerateKey_StructMatchesEquivalentMap(t *testing.T) {
	type query struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	assert.Equal(t,
		GenerateKey("n", "k", query{ID: 1, Name: "x"}),
		GenerateKey("n", "k", map[string]any{"name": "x", "id": 1}),
	)
}

func TestGenerateKey_Escaping(t *testing.T) {
	assert.NotEqual(t, GenerateKey("a:b", "c", nil), GenerateKey("a", "b:c", nil))
	assert.Equal(t, `a\:b:c::0`, GenerateKey("a:b", "c", nil))
	assert.Equal(t, `a\\:b::0`, GenerateKey(`a\`, "b", nil))
	assert.NotEqual(t, GenerateKey(`a\`, ":b", nil), GenerateKey("a", `\:b`, nil))
}

func TestGenerateKey_UnencodableParams(t *testing.T) {
	n := &cyclicNode{Name: "loop"}
	n.Next = n

	cases := map[string]any{
		"cycle":    n,
		"func":     func() {},
		"channel":  make(chan int),
		"panicker": panickyParams{},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			var key string
			assert.NotPanics(t, func() { key = GenerateKey("n", "k", p) })
			assert.Equal(t, key, GenerateKey("n", "k", p), "fallback must be deterministic")
			assert.NotEqual(t, GenerateKey("n", "k", nil), key)
		})
	}
}

type hiddenFilter struct {
	page int
}

type taggedOut struct {
	ID     int    `json:"id"`
	Secret string `json:"-"`
}

func TestGenerateKey_FallbackHashesContent(t *testing.T) {
	inf := math.Inf(1)
	cases := map[string][2]any{
		"non-string map keys": {map[any]any{"id": 1}, map[any]any{"id": 2}},
		"NaN versus Inf":      {math.NaN(), inf},
		"NaN inside a map":    {map[string]any{"score": math.NaN()}, map[string]any{"score": -inf}},
		"unexported fields":   {hiddenFilter{page: 1}, hiddenFilter{page: 2}},
		"json dash fields":    {taggedOut{ID: 1, Secret: "a"}, taggedOut{ID: 1, Secret: "b"}},
		"nested hidden":       {map[string]any{"f": hiddenFilter{1}}, map[string]any{"f": hiddenFilter{2}}},
	}
	for name, pair := range cases {
		t.Run(name, func(t *testing.T) {
			a, b := GenerateKey("n", "k", pair[0]), GenerateKey("n", "k", pair[1])
			assert.NotEqual(t, a, b)
			assert.Equal(t, a, GenerateKey("n", "k", pair[0]))
		})
	}
}

func TestGenerateKey_FallbackIsOrderIndependent(t *testing.T) {
	a := map[any]any{}
	a[1] = "one"
	a["two"] = 2
	b := map[any]any{}
	b["two"] = 2
	b[1] = "one"

	assert.Equal(t, GenerateKey("n", "k", a), GenerateKey("n", "k", b))
	assert.NotEqual(t, GenerateKey("n", "k", map[any]any{1: "x"}), GenerateKey("n", "k", map[any]any{"1": "x"}))
}

func TestGenerateKey_CyclesHashByShape(t *testing.T) {
	loop := func(name string) *cyclicNode {
		n := &cyclicNode{Name: name}
		n.Next = n
		return n
	}
	assert.Equal(t, GenerateKey("n", "k", loop("a")), GenerateKey("n", "k", loop("a")))
	assert.NotEqual(t, GenerateKey("n", "k", loop("a")), GenerateKey("n", "k", loop("b")))

	self := map[string]any{"id": 1}
	self["self"] = self
	var key string
	assert.NotPanics(t, func() { key = GenerateKey("n", "k", self) })
	assert.NotEqual(t, GenerateKey("n", "k", nil), key)
}
