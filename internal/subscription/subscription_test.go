package subscription

import (
	"sync"
	"testing"

	"github.com/life-stream-dev/life-stream-go-nt-server/internal/store"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/topic"
	"github.com/life-stream-dev/life-stream-go-nt-server/internal/value"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	kind   string
	connID string
	name   string
	seq    uint64
}

type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) add(d delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

func (r *recorder) DeliverAnnounce(connID string, t topic.Topic) {
	r.add(delivery{kind: "announce", connID: connID, name: t.Name})
}

func (r *recorder) DeliverUnannounce(connID string, t topic.Topic) {
	r.add(delivery{kind: "unannounce", connID: connID, name: t.Name})
}

func (r *recorder) DeliverValue(connID string, t topic.Topic, record store.Record) {
	r.add(delivery{kind: "value", connID: connID, name: t.Name, seq: record.Sequence})
}

func (r *recorder) DeliverProperties(connID string, t topic.Topic, _ map[string]any) {
	r.add(delivery{kind: "properties", connID: connID, name: t.Name})
}

func (r *recorder) of(kind, connID string) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []delivery
	for _, d := range r.deliveries {
		if d.kind == kind && d.connID == connID {
			out = append(out, d)
		}
	}
	return out
}

func newTestEngine() (*Engine, *topic.Registry, *store.Store, *recorder) {
	registry := topic.NewRegistry()
	values := store.New()
	rec := &recorder{}
	engine := NewEngine(registry, values, rec, Config{CacheSize: 16})
	registry.OnEvent(engine.HandleTopicEvent)
	return engine, registry, values, rec
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"/chalkydri/", "/chalkydri/speed", true},
		{"/chalkydri/", "/chalkydri/a/b", true},
		{"/chalkydri/", "/chalkydri", false},
		{"/chalkydri/", "/chalkydrix/speed", false},
		{"/chalkydri/speed", "/chalkydri/speed", true},
		{"/chalkydri/speed", "/chalkydri/speed2", false},
		{"/", "/a", true},
		{"/", "a", false},
		{"", "/a", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Match(tt.pattern, tt.name))
		})
	}
}

// 订阅树的结果必须与 Match 一致
func TestTreeAgreesWithMatch(t *testing.T) {
	patterns := []string{"/", "/a/", "/a/b", "/a/b/", "a", "a/", "//", "/a/bc"}
	names := []string{"/a", "/a/b", "/a/b/c", "/a/bc", "a", "a/b", "//x", "/b"}

	root := newNode("")
	for i, p := range patterns {
		root.insert(Subscription{ConnID: string(rune('A' + i)), Pattern: p})
	}
	for _, name := range names {
		got := map[string]bool{}
		root.match(name, func(sub Subscription) { got[sub.Pattern] = true })
		for _, p := range patterns {
			require.Equal(t, Match(p, name), got[p], "pattern %q name %q", p, name)
		}
	}
}

func TestTreeRemovePrunes(t *testing.T) {
	root := newNode("")
	root.insert(Subscription{ConnID: "c1", Pattern: "/a/b/"})
	root.insert(Subscription{ConnID: "c1", Pattern: "/a/b/c"})

	require.True(t, root.remove("c1", "/a/b/"))
	require.False(t, root.remove("c1", "/a/b/"))
	require.True(t, root.remove("c1", "/a/b/c"))
	require.True(t, root.empty())
}

func TestSubscribeAnnouncesExistingTopics(t *testing.T) {
	engine, registry, _, rec := newTestEngine()
	_, _, _ = registry.CreateOrGet("/chalkydri/speed", value.TypeDouble, nil)
	_, _, _ = registry.CreateOrGet("/chalkydri/heading", value.TypeDouble, nil)
	_, _, _ = registry.CreateOrGet("/other", value.TypeDouble, nil)

	_, err := engine.Subscribe("c1", "/chalkydri/", Options{})
	require.NoError(t, err)

	announced := rec.of("announce", "c1")
	require.Len(t, announced, 2)
	require.Equal(t, "/chalkydri/speed", announced[0].name)
	require.Equal(t, "/chalkydri/heading", announced[1].name)
}

func TestSubscribeInvalidPattern(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	_, err := engine.Subscribe("c1", "", Options{})
	require.ErrorIs(t, err, ErrInvalidPattern)
	require.Zero(t, engine.Count())
}

func TestRetainedRedelivery(t *testing.T) {
	engine, registry, values, rec := newTestEngine()
	retained, _, _ := registry.CreateOrGet("/r", value.TypeInt, topic.Properties{topic.PropertyRetained: true})
	plain, _, _ := registry.CreateOrGet("/p", value.TypeInt, nil)
	_, _ = values.Publish(retained, value.Int(1), 0)
	_, _ = values.Publish(plain, value.Int(1), 0)

	_, err := engine.Subscribe("c1", "/", Options{})
	require.NoError(t, err)

	got := rec.of("value", "c1")
	require.Len(t, got, 1)
	require.Equal(t, "/r", got[0].name)

	// 只订阅主题的连接不会收到值
	_, err = engine.Subscribe("c2", "/", Options{TopicsOnly: true})
	require.NoError(t, err)
	require.Empty(t, rec.of("value", "c2"))
	require.Len(t, rec.of("announce", "c2"), 2)
}

func TestOnPublishDeliversOncePerConnection(t *testing.T) {
	engine, registry, values, rec := newTestEngine()
	speed, _, _ := registry.CreateOrGet("/chalkydri/speed", value.TypeDouble, nil)

	_, _ = engine.Subscribe("c1", "/chalkydri/", Options{})
	_, _ = engine.Subscribe("c1", "/chalkydri/speed", Options{})
	_, _ = engine.Subscribe("c1", "/", Options{TopicsOnly: true})
	_, _ = engine.Subscribe("c2", "/chalkydri/", Options{TopicsOnly: true})

	record, err := values.Publish(speed, value.Double(4.2), 0)
	require.NoError(t, err)
	require.Equal(t, 1, engine.OnPublish(speed, record))

	require.Len(t, rec.of("value", "c1"), 1)
	require.Empty(t, rec.of("value", "c2"))
}

func TestPublishOrderPreserved(t *testing.T) {
	engine, registry, values, rec := newTestEngine()
	_, _ = engine.Subscribe("b", "/chalkydri/", Options{})
	speed, _, _ := registry.CreateOrGet("/chalkydri/speed", value.TypeDouble, nil)

	for _, v := range []float64{4.2, 4.5} {
		record, err := values.Publish(speed, value.Double(v), 0)
		require.NoError(t, err)
		engine.OnPublish(speed, record)
	}
	got := rec.of("value", "b")
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].seq)
	require.Equal(t, uint64(2), got[1].seq)
}

func TestTopicEvents(t *testing.T) {
	engine, registry, _, rec := newTestEngine()
	_, _ = engine.Subscribe("c1", "/a/", Options{})

	_, _, _ = registry.CreateOrGet("/a/x", value.TypeBoolean, nil)
	_, _ = registry.SetProperties("/a/x", map[string]any{"unit": "m/s"})
	_, _ = registry.Delete("/a/x")
	_, _, _ = registry.CreateOrGet("/b/x", value.TypeBoolean, nil)

	require.Len(t, rec.of("announce", "c1"), 1)
	require.Len(t, rec.of("properties", "c1"), 1)
	require.Len(t, rec.of("unannounce", "c1"), 1)
}

func TestUnsubscribeAndRemoveConnection(t *testing.T) {
	engine, registry, values, rec := newTestEngine()
	speed, _, _ := registry.CreateOrGet("/chalkydri/speed", value.TypeDouble, nil)

	_, _ = engine.Subscribe("c1", "/chalkydri/", Options{})
	_, _ = engine.Subscribe("c1", "/other", Options{})
	_, _ = engine.Subscribe("c2", "/chalkydri/speed", Options{})
	require.Equal(t, 3, engine.Count())

	// 先发布一次以填充匹配缓存
	record, _ := values.Publish(speed, value.Double(1), 0)
	require.Equal(t, 2, engine.OnPublish(speed, record))

	require.True(t, engine.Unsubscribe("c2", "/chalkydri/speed"))
	require.False(t, engine.Unsubscribe("c2", "/chalkydri/speed"))
	record, _ = values.Publish(speed, value.Double(2), 0)
	require.Equal(t, 1, engine.OnPublish(speed, record))

	require.Equal(t, 2, engine.RemoveConnection("c1"))
	require.Zero(t, engine.RemoveConnection("c1"))
	require.Zero(t, engine.Count())
	record, _ = values.Publish(speed, value.Double(3), 0)
	require.Zero(t, engine.OnPublish(speed, record))
	require.Len(t, rec.of("value", "c1"), 2)
}

func TestResubscribeReplacesOptions(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	_, _ = engine.Subscribe("c1", "/a/", Options{})
	_, _ = engine.Subscribe("c1", "/a/", Options{TopicsOnly: true})

	subs := engine.Subscriptions("c1")
	require.Len(t, subs, 1)
	require.True(t, subs[0].Options.TopicsOnly)
	require.True(t, subs[0].Prefix())
}
