package topic

import (
	"slices"
	"testing"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
	"github.com/stretchr/testify/require"
)

func TestCreateOrGetIdempotent(t *testing.T) {
	r := NewRegistry()

	first, created, err := r.CreateOrGet("/a", value.TypeDouble, Properties{})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.CreateOrGet("/a", value.TypeDouble, Properties{})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateOrGetTypeConflict(t *testing.T) {
	r := NewRegistry()
	original, _, err := r.CreateOrGet("/a", value.TypeDouble, Properties{PropertyRetained: true})
	require.NoError(t, err)

	_, _, err = r.CreateOrGet("/a", value.TypeString, nil)
	require.ErrorIs(t, err, ErrTypeConflict)

	current, ok := r.LookupName("/a")
	require.True(t, ok)
	require.Equal(t, original, current)
}

func TestCreateOrGetInvalid(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"", "/prefix/"} {
		_, _, err := r.CreateOrGet(name, value.TypeBoolean, nil)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, _, err := r.CreateOrGet("/x", value.DataType(99), nil)
	require.Error(t, err)
	require.Zero(t, r.Len())
}

func TestIDsNeverReused(t *testing.T) {
	r := NewRegistry()
	a, _, _ := r.CreateOrGet("/a", value.TypeInt, nil)
	_, ok := r.Delete("/a")
	require.True(t, ok)

	again, _, _ := r.CreateOrGet("/a", value.TypeInt, nil)
	require.NotEqual(t, a.ID, again.ID)
	require.Greater(t, again.ID, a.ID)
}

func TestDeleteAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	var events []Event
	r.OnEvent(func(ev Event) { events = append(events, ev) })

	_, ok := r.Delete("/missing")
	require.False(t, ok)
	require.Empty(t, events)
}

func TestEvents(t *testing.T) {
	r := NewRegistry()
	var events []Event
	r.OnEvent(func(ev Event) { events = append(events, ev) })

	r.CreateOrGet("/a", value.TypeString, nil)
	r.CreateOrGet("/a", value.TypeString, nil)
	r.SetProperties("/a", map[string]any{PropertyPersistent: true})
	r.Delete("/a")

	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []EventKind{Created, PropertiesChanged, Deleted}, kinds)
	require.True(t, events[1].Topic.Retained())
}

func TestSetProperties(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("/a", value.TypeString, Properties{"unit": "m", PropertyRetained: true})

	updated, err := r.SetProperties("/a", map[string]any{"unit": nil, PropertyPersistent: true})
	require.NoError(t, err)
	require.Equal(t, Properties{PropertyRetained: true, PropertyPersistent: true}, updated.Properties)

	_, err = r.SetProperties("/missing", map[string]any{"x": 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshot(t *testing.T) {
	r := NewRegistry()
	r.CreateOrGet("/chalkydri/b", value.TypeDouble, nil)
	r.CreateOrGet("/other", value.TypeDouble, nil)
	r.CreateOrGet("/chalkydri/a", value.TypeDouble, nil)

	seq := r.List("/chalkydri/")
	r.CreateOrGet("/chalkydri/c", value.TypeDouble, nil)

	names := func() []string {
		var out []string
		for topic := range seq {
			out = append(out, topic.Name)
		}
		return out
	}
	require.Equal(t, []string{"/chalkydri/b", "/chalkydri/a"}, names())
	// 可重复遍历
	require.Equal(t, names(), names())

	all := slices.Collect(r.List(""))
	require.Len(t, all, 4)
}

func TestReturnedTopicIsACopy(t *testing.T) {
	r := NewRegistry()
	created, _, _ := r.CreateOrGet("/a", value.TypeBoolean, Properties{"k": "v"})
	created.Properties["k"] = "changed"

	current, _ := r.LookupName("/a")
	require.Equal(t, "v", current.Properties["k"])
}
