package handlers

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func testDefect(part, ring, vertex int) *Defect {
	return newDefect(AngleCheckID, "parcels", 1,
		geometry.VertexID{Part: part, Ring: ring, Vertex: vertex}, geom.Coord{1, 2}, 0.5)
}

func TestDefect_SingleTransition(t *testing.T) {
	d := testDefect(0, 0, 3)
	assert.Equal(t, StatusPending, d.Status())

	require.True(t, d.SetFixFailed(ReasonDegenerate))
	assert.False(t, d.SetFixed(MethodDeleteNode))
	assert.False(t, d.SetObsolete())

	assert.Equal(t, StatusFixFailed, d.Status())
	assert.Equal(t, ReasonDegenerate, d.ResolutionMessage())
	_, fixed := d.FixMethod()
	assert.False(t, fixed)
}

func TestDefect_ConcurrentTransitions(t *testing.T) {
	d := testDefect(0, 0, 3)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = d.SetObsolete()
			} else {
				ok = d.SetFixed(MethodNoChange)
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDefect_Equality(t *testing.T) {
	a := testDefect(0, 1, 3)
	b := testDefect(0, 1, 3)
	assert.True(t, a.IsEqual(b))
	assert.NotEqual(t, a.ID, b.ID)

	b.Angle = 0.7
	assert.False(t, a.IsEqual(b))
	assert.True(t, a.CloseMatch(b))

	c := testDefect(0, 1, 4)
	assert.False(t, a.CloseMatch(c))
}

func TestDefect_LocationIsCopied(t *testing.T) {
	loc := geom.Coord{3, 4}
	d := newDefect(AngleCheckID, "parcels", 1, geometry.VertexID{}, loc, 1)
	loc[0] = 99
	assert.Equal(t, geom.Coord{3, 4}, d.Location)
}

func TestDefect_Rebase(t *testing.T) {
	node := func(p, r, v int, typ ChangeType) Change {
		return Change{What: ChangeNode, Type: typ, Vertex: geometry.VertexID{Part: p, Ring: r, Vertex: v}}
	}

	tests := []struct {
		name    string
		changes []Change
		want    geometry.VertexID
		valid   bool
	}{
		{
			name:  "no changes",
			want:  geometry.VertexID{Part: 1, Ring: 1, Vertex: 5},
			valid: true,
		},
		{
			name:    "earlier node removed",
			changes: []Change{node(1, 1, 2, ChangeRemoved), node(1, 1, 2, ChangeRemoved)},
			want:    geometry.VertexID{Part: 1, Ring: 1, Vertex: 3},
			valid:   true,
		},
		{
			name:    "later node removed",
			changes: []Change{node(1, 1, 7, ChangeRemoved)},
			want:    geometry.VertexID{Part: 1, Ring: 1, Vertex: 5},
			valid:   true,
		},
		{
			name:    "node in another ring",
			changes: []Change{node(1, 0, 1, ChangeRemoved), node(0, 1, 1, ChangeRemoved)},
			want:    geometry.VertexID{Part: 1, Ring: 1, Vertex: 5},
			valid:   true,
		},
		{
			name:    "earlier node added",
			changes: []Change{node(1, 1, 0, ChangeAdded)},
			want:    geometry.VertexID{Part: 1, Ring: 1, Vertex: 6},
			valid:   true,
		},
		{
			name:    "same node removed",
			changes: []Change{node(1, 1, 5, ChangeRemoved)},
			valid:   false,
		},
		{
			name:    "node shifted onto the defect then removed",
			changes: []Change{node(1, 1, 0, ChangeRemoved), node(1, 1, 4, ChangeRemoved)},
			valid:   false,
		},
		{
			name:    "earlier ring removed",
			changes: []Change{{What: ChangeRing, Type: ChangeRemoved, Vertex: geometry.VertexID{Part: 1, Ring: 0}}},
			want:    geometry.VertexID{Part: 1, Ring: 0, Vertex: 5},
			valid:   true,
		},
		{
			name:    "own ring removed",
			changes: []Change{{What: ChangeRing, Type: ChangeRemoved, Vertex: geometry.VertexID{Part: 1, Ring: 1}}},
			valid:   false,
		},
		{
			name:    "earlier part removed",
			changes: []Change{{What: ChangePart, Type: ChangeRemoved, Vertex: geometry.VertexID{Part: 0}}},
			want:    geometry.VertexID{Part: 0, Ring: 1, Vertex: 5},
			valid:   true,
		},
		{
			name:    "own part removed",
			changes: []Change{{What: ChangePart, Type: ChangeRemoved, Vertex: geometry.VertexID{Part: 1}}},
			valid:   false,
		},
		{
			name:    "feature changed",
			changes: []Change{{What: ChangeFeature, Type: ChangeChanged}},
			valid:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDefect(1, 1, 5)
			changes := Changes{}
			for _, c := range tt.changes {
				changes.Append("parcels", 1, c)
			}
			// edits to other features never matter
			changes.Append("parcels", 2, node(1, 1, 0, ChangeRemoved))
			changes.Append("roads", 1, node(1, 1, 0, ChangeRemoved))

			rebased, ok := d.Rebase(changes)
			require.Equal(t, tt.valid, ok)
			assert.Equal(t, geometry.VertexID{Part: 1, Ring: 1, Vertex: 5}, d.Vertex)
			if !ok {
				assert.Nil(t, rebased)
				return
			}
			assert.Equal(t, tt.want, rebased.Vertex)
			assert.Equal(t, d.ID, rebased.ID)
			assert.Equal(t, StatusPending, rebased.Status())
		})
	}
}

func TestDefect_RebaseObsolete(t *testing.T) {
	d := testDefect(0, 0, 1)
	d.SetObsolete()
	_, ok := d.Rebase(Changes{})
	assert.False(t, ok)
}

func TestDefect_MarshalJSON(t *testing.T) {
	d := testDefect(0, 1, 3)
	d.SetFixed(MethodDeleteNode)

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "AngleCheck", got["check"])
	assert.Equal(t, "parcels", got["layer"])
	assert.Equal(t, "fixed", got["status"])
	assert.Equal(t, "Delete node with small angle", got["fixMethod"])
	assert.Equal(t, map[string]interface{}{"part": 0.0, "ring": 1.0, "vertex": 3.0}, got["vertex"])
	assert.NotContains(t, got, "resolutionMessage")
}

func TestChanges(t *testing.T) {
	c := Changes{}
	assert.Zero(t, c.Count())
	assert.Nil(t, c.For("parcels", 1))

	c.Append("parcels", 1, Change{What: ChangeNode, Type: ChangeRemoved})
	c.Append("parcels", 1, Change{What: ChangeNode, Type: ChangeRemoved, Vertex: geometry.VertexID{Vertex: 2}})
	c.Append("roads", 4, Change{What: ChangeFeature, Type: ChangeChanged})

	assert.Equal(t, 3, c.Count())
	require.Len(t, c.For("parcels", 1), 2)
	assert.Equal(t, 2, c.For("parcels", 1)[1].Vertex.Vertex)

	data, err := json.Marshal(c.For("roads", 4)[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"what":"feature","type":"changed","vertex":{"part":0,"ring":0,"vertex":0}}`, string(data))
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{in: "Delete node with small angle", want: MethodDeleteNode},
		{in: "no action", want: MethodNoChange},
		{in: "delete", want: MethodDeleteNode},
		{in: " none ", want: MethodNoChange},
		{in: "1", want: MethodNoChange},
		{in: "7", want: Method(7)},
		{in: "squash", wantErr: true},
		{in: "1x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "Method(7)", Method(7).String())
}
