package chunk

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(pid, sid, date string, hour int) Identity {
	return Identity{
		ParticipantID: pid,
		InstrumentID:  sid,
		Date:          date,
		Hour:          hour,
		Kind:          KindSensor,
		Path:          fmt.Sprintf("/%s/%s/%s-%02d.sensor.csv", pid, sid, date, hour),
	}
}

func TestResolveInstrumentBoundary(t *testing.T) {
	a := ident("P1", "S1", "2020-01-01", 10)
	b := ident("P1", "S1", "2020-01-01", 11)
	c := ident("P1", "S2", "2020-01-01", 10)

	res, err := Resolve([]Identity{c, b, a}, false)
	require.NoError(t, err)
	require.Equal(t, []Identity{a, b, c}, res.Order)

	next, ok := res.Next(0)
	require.True(t, ok)
	assert.Equal(t, b, next)

	prev, ok := res.Prev(1)
	require.True(t, ok)
	assert.Equal(t, a, prev)

	_, ok = res.Next(1)
	assert.False(t, ok)
	_, ok = res.Prev(2)
	assert.False(t, ok)
	_, ok = res.Next(2)
	assert.False(t, ok, "hour-10/S2 must not link to another instrument")
}

func TestResolveDuplicateKey(t *testing.T) {
	a := ident("P1", "S1", "2020-01-01", 10)
	dup := a
	dup.Path = "/elsewhere/file.sensor.csv"

	_, err := Resolve([]Identity{a, ident("P1", "S1", "2020-01-01", 11), dup}, false)
	require.ErrorIs(t, err, ErrAmbiguousOrdering)
	assert.Contains(t, err.Error(), "P1/S1/2020-01-01/10")
}

func TestResolveLinksAreSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var ids []Identity
	for _, pid := range []string{"P1", "P2"} {
		for _, sid := range []string{"A", "B", "C"} {
			for _, date := range []string{"2020-01-01", "2020-01-02"} {
				for h := 0; h < 24; h++ {
					if rng.Intn(3) == 0 {
						ids = append(ids, ident(pid, sid, date, h))
					}
				}
			}
		}
	}
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	res, err := Resolve(ids, false)
	require.NoError(t, err)
	require.Len(t, res.Order, len(ids))
	for i, l := range res.Links {
		if l.HasNext() {
			assert.Equal(t, i, res.Links[l.Next].Prev)
			assert.True(t, res.Order[i].SameGroup(res.Order[l.Next]))
		}
		if l.HasPrev() {
			assert.Equal(t, i, res.Links[l.Prev].Next)
		}
		if i > 0 {
			assert.True(t, res.Order[i-1].Key().less(res.Order[i].Key()))
		}
	}
}

func TestResolveIndependent(t *testing.T) {
	res, err := Resolve([]Identity{
		ident("P1", "S1", "2020-01-01", 10),
		ident("P1", "S1", "2020-01-01", 11),
	}, true)
	require.NoError(t, err)
	for _, l := range res.Links {
		assert.Equal(t, Link{Prev: None, Next: None}, l)
	}
}

func TestResolveEmpty(t *testing.T) {
	res, err := Resolve(nil, false)
	require.NoError(t, err)
	assert.Empty(t, res.Order)
	assert.Empty(t, res.Links)
}
