package topicbus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPlugin implements all three hook interfaces with configurable
// behavior.
type testPlugin struct {
	name    string
	preErr  error
	pre     chan *Event
	on      chan Event
	post    chan Event
	rewrite any
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) PrePublish(_ context.Context, evt *Event) error {
	if p.rewrite != nil {
		evt.Payload = p.rewrite
	}
	if p.pre != nil {
		p.pre <- evt
	}
	return p.preErr
}

func (p *testPlugin) OnPublish(_ context.Context, evt Event) {
	if p.on != nil {
		p.on <- evt
	}
}

func (p *testPlugin) PostPublish(_ context.Context, evt Event) {
	if p.post != nil {
		p.post <- evt
	}
}

func TestPluginSetProbesInterfaces(t *testing.T) {
	var set pluginSet

	require.NoError(t, set.register(&testPlugin{name: "full"}))
	assert.Len(t, set.pre, 1)
	assert.Len(t, set.on, 1)
	assert.Len(t, set.post, 1)

	assert.Error(t, set.register(nil))
}

func TestPluginVetoNamesThePlugin(t *testing.T) {
	var set pluginSet
	require.NoError(t, set.register(&testPlugin{name: "quota", preErr: errors.New("tenant over limit")}))

	err := set.prePublish(context.Background(), newEvent("a.b", nil, nil))
	require.ErrorIs(t, err, ErrPluginRejected)
	assert.Contains(t, err.Error(), `"quota"`)
	assert.Contains(t, err.Error(), "tenant over limit")
}

func TestPluginRejectsPublish(t *testing.T) {
	bus := newTestBus(t)
	require.NoError(t, bus.RegisterPlugin(&testPlugin{
		name:   "firewall",
		preErr: errors.New("blocked topic"),
	}))

	err := bus.Publish(context.Background(), "secret.channel", "x")
	assert.ErrorIs(t, err, ErrPluginRejected)

	// A vetoed publish is not counted and holds no queue slot.
	s := bus.Stats()
	assert.Equal(t, uint64(0), s.Published)
	assert.Equal(t, 0, s.QueueDepth)
}

func TestPluginTransformsPayload(t *testing.T) {
	bus := newTestBus(t)
	require.NoError(t, bus.RegisterPlugin(&testPlugin{name: "redactor", rewrite: "[redacted]"}))

	rec := &recorder{}
	_, err := bus.Subscribe("pii.record", rec.handler)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "pii.record", "ssn 123-45-6789"))
	waitFor(t, time.Second, func() bool { return rec.len() == 1 }, "delivery")
	assert.Equal(t, []any{"[redacted]"}, rec.payloads())
}

func TestPostPublishRunsAfterFanOut(t *testing.T) {
	post := make(chan Event, 1)
	bus := newTestBus(t)
	require.NoError(t, bus.RegisterPlugin(&testPlugin{name: "tail", post: post}))

	delivered := make(chan struct{}, 1)
	_, err := bus.Subscribe("pipeline.step", func(_ context.Context, _ Event) error {
		delivered <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "pipeline.step", "s1"))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("delivery never happened")
	}
	select {
	case evt := <-post:
		assert.Equal(t, "pipeline.step", evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("post-publish hook never fired")
	}
}

func TestAuditPluginRing(t *testing.T) {
	audit := NewAuditPlugin(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		audit.OnPublish(ctx, *newEvent(fmt.Sprintf("t.%d", i), nil, nil))
	}

	recent := audit.Recent()
	require.Len(t, recent, 3, "ring keeps the last 3")
	assert.Equal(t, "t.3", recent[0].Topic)
	assert.Equal(t, "t.4", recent[1].Topic)
	assert.Equal(t, "t.5", recent[2].Topic)
}

func TestAuditPluginPartialRing(t *testing.T) {
	audit := NewAuditPlugin(8)
	ctx := context.Background()

	audit.OnPublish(ctx, *newEvent("only.one", nil, nil))

	recent := audit.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "only.one", recent[0].Topic)
	assert.NotEmpty(t, recent[0].EventID)
	assert.False(t, recent[0].At.IsZero())
}

func TestAuditPluginOnBus(t *testing.T) {
	bus := newTestBus(t)
	audit := NewAuditPlugin(16)
	require.NoError(t, bus.RegisterPlugin(audit))

	rec := &recorder{}
	_, err := bus.Subscribe("audited.#", rec.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, "audited.a", 1))
	require.NoError(t, bus.Publish(ctx, "audited.b", 2))

	waitFor(t, time.Second, func() bool { return rec.len() == 2 }, "deliveries")

	recent := audit.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "audited.a", recent[0].Topic)
	assert.Equal(t, "audited.b", recent[1].Topic)
}
