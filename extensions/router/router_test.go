package router

import (
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/mqttng"
)

func TestRouterHandle(t *testing.T) {
	r := New()

	var called bool
	r.Handle(func(_ *mqttng.Message) {
		called = true
	}, WithTopic("devices/d1/cmd/reboot"))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Route(&mqttng.Message{Topic: "devices/d1/cmd/reboot"}))
	assert.True(t, called)
}

func TestRouterWildcards(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		topics  []string
		matched int
	}{
		{
			name:    "single level",
			filter:  "devices/+/cmd",
			topics:  []string{"devices/a/cmd", "devices/b/cmd", "devices/a/b/cmd"},
			matched: 2,
		},
		{
			name:    "multi level",
			filter:  "devices/#",
			topics:  []string{"devices", "devices/a", "devices/a/cmd/x", "other"},
			matched: 3,
		},
		{
			name:    "exact",
			filter:  "devices/a/cmd",
			topics:  []string{"devices/a/cmd", "devices/a/cmd/x"},
			matched: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()

			var topics []string
			r.Handle(func(msg *mqttng.Message) {
				topics = append(topics, msg.Topic)
			}, WithTopic(tt.filter))

			for _, topic := range tt.topics {
				r.Route(&mqttng.Message{Topic: topic})
			}
			assert.Len(t, topics, tt.matched)
		})
	}
}

func TestRouterMultipleHandlers(t *testing.T) {
	r := New()

	var count atomic.Int32
	inc := func(_ *mqttng.Message) { count.Add(1) }

	r.Handle(inc, WithTopic("cmd/+"))
	r.Handle(inc, WithTopic("cmd/reboot"))
	r.Handle(inc, WithTopic("#"))

	assert.Equal(t, 3, r.Route(&mqttng.Message{Topic: "cmd/reboot"}))
	assert.Equal(t, int32(3), count.Load())
}

func TestRouterConditions(t *testing.T) {
	msg := &mqttng.Message{
		Topic:         "cmd/update",
		QoS:           mqttng.QoS1,
		Retain:        true,
		ContentType:   "application/json",
		ResponseTopic: "replies/d1",
		UserProperties: []mqttng.StringPair{
			{Key: "source", Value: "cloud"},
			{Key: "priority", Value: "high"},
		},
	}

	tests := []struct {
		name  string
		opts  []ConditionOption
		match bool
	}{
		{"qos match", []ConditionOption{WithQoS(mqttng.QoS1)}, true},
		{"qos mismatch", []ConditionOption{WithQoS(mqttng.QoS0)}, false},
		{"retained match", []ConditionOption{WithRetained(true)}, true},
		{"retained mismatch", []ConditionOption{WithRetained(false)}, false},
		{"content type", []ConditionOption{WithContentType(regexp.MustCompile(`^application/json$`))}, true},
		{"content type mismatch", []ConditionOption{WithContentType(regexp.MustCompile(`^text/`))}, false},
		{"response topic", []ConditionOption{WithResponseTopic(regexp.MustCompile(`^replies/`))}, true},
		{
			"user properties all present",
			[]ConditionOption{
				WithUserProperty(regexp.MustCompile(`^source$`), regexp.MustCompile(`^cloud$`)),
				WithUserProperty(regexp.MustCompile(`^priority$`), regexp.MustCompile(`^high$`)),
			},
			true,
		},
		{
			"user property value mismatch",
			[]ConditionOption{WithUserProperty(regexp.MustCompile(`^source$`), regexp.MustCompile(`^edge$`))},
			false,
		},
		{
			"combined",
			[]ConditionOption{WithTopic("cmd/#"), WithQoS(mqttng.QoS1), WithRetained(true)},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			var called bool
			r.Handle(func(_ *mqttng.Message) { called = true }, tt.opts...)

			r.Route(msg)
			assert.Equal(t, tt.match, called)
		})
	}
}

func TestRouterFallback(t *testing.T) {
	r := New()

	var handled, fallback int
	r.Handle(func(_ *mqttng.Message) { handled++ }, WithTopic("cmd/reboot"))
	r.Fallback(func(_ *mqttng.Message) { fallback++ })

	r.Route(&mqttng.Message{Topic: "cmd/reboot"})
	r.Route(&mqttng.Message{Topic: "cmd/unknown"})

	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, fallback)
}

func TestRouterFiltersAndSubscriptions(t *testing.T) {
	r := New()

	r.Handle(func(_ *mqttng.Message) {}, WithTopic("cmd/b"))
	r.Handle(func(_ *mqttng.Message) {}, WithTopic("cmd/a"))
	r.Handle(func(_ *mqttng.Message) {}, WithTopic("cmd/a"))
	r.Handle(func(_ *mqttng.Message) {}, WithQoS(mqttng.QoS1))

	assert.Equal(t, []string{"cmd/a", "cmd/b"}, r.Filters())

	subs := r.Subscriptions(mqttng.QoS1)
	require.Len(t, subs, 2)
	assert.Equal(t, mqttng.Subscription{Filter: "cmd/a", QoS: mqttng.QoS1}, subs[0])
	assert.Equal(t, mqttng.Subscription{Filter: "cmd/b", QoS: mqttng.QoS1}, subs[1])
}

func TestRouterClear(t *testing.T) {
	r := New()

	r.Handle(func(_ *mqttng.Message) {}, WithTopic("cmd/a"))
	r.Fallback(func(_ *mqttng.Message) {})
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Route(&mqttng.Message{Topic: "cmd/a"}))
}

func TestRouterNilMessage(t *testing.T) {
	r := New()

	var called bool
	r.Handle(func(_ *mqttng.Message) { called = true }, WithTopic("#"))

	assert.Equal(t, 0, r.Route(nil))
	assert.False(t, called)
}

func TestRouterMessageHandler(t *testing.T) {
	r := New()

	var received string
	r.Handle(func(msg *mqttng.Message) {
		received = msg.Topic
	}, WithTopic("cmd/#"))

	r.MessageHandler()(&mqttng.Message{Topic: "cmd/ping"})
	assert.Equal(t, "cmd/ping", received)
}

func BenchmarkRouterRoute(b *testing.B) {
	r := New()
	for _, f := range []string{"cmd/+", "cmd/reboot", "telemetry/#", "config/+/set"} {
		r.Handle(func(_ *mqttng.Message) {}, WithTopic(f))
	}
	msg := &mqttng.Message{Topic: "cmd/reboot"}

	b.ReportAllocs()
	for b.Loop() {
		r.Route(msg)
	}
}
