// Package router dispatches inbound messages, typically cloud-to-device
// commands, to handlers selected by topic filter and message attributes.
package router

import (
	"regexp"
	"slices"
	"sync"

	"github.com/vitalvas/mqttng"
)

// Handler processes an MQTT message.
type Handler func(msg *mqttng.Message)

type userPropertyMatcher struct {
	keyPattern   *regexp.Regexp
	valuePattern *regexp.Regexp
}

// Condition defines filtering criteria for message routing.
type Condition struct {
	topicFilter         *string
	qos                 *mqttng.QoS
	retained            *bool
	contentTypeRegexp   *regexp.Regexp
	responseTopicRegexp *regexp.Regexp
	userProperties      []userPropertyMatcher
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic sets the topic filter. Supports + and # wildcards.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) {
		c.topicFilter = &filter
	}
}

// WithQoS filters messages by QoS level.
func WithQoS(qos mqttng.QoS) ConditionOption {
	return func(c *Condition) {
		c.qos = &qos
	}
}

// WithRetained filters on the RETAIN flag, e.g. to ignore stale retained commands.
func WithRetained(retained bool) ConditionOption {
	return func(c *Condition) {
		c.retained = &retained
	}
}

// WithContentType filters messages by content type.
func WithContentType(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.contentTypeRegexp = pattern
	}
}

// WithResponseTopic filters messages by response topic.
func WithResponseTopic(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.responseTopicRegexp = pattern
	}
}

// WithUserProperty requires a user property whose key and value both match.
// Repeat to require several properties.
func WithUserProperty(keyPattern, valuePattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.userProperties = append(c.userProperties, userPropertyMatcher{
			keyPattern:   keyPattern,
			valuePattern: valuePattern,
		})
	}
}

type registration struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to every handler whose condition matches.
type Router struct {
	mu       sync.RWMutex
	handlers []registration
	fallback Handler
}

// New creates an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers a handler.
//
//	r.Handle(reboot, router.WithTopic("devices/+/cmd/reboot"), router.WithRetained(false))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, registration{handler: handler, condition: cond})
	r.mu.Unlock()
}

// Fallback sets the handler for messages no registration matched.
func (r *Router) Fallback(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

func (c *Condition) matches(msg *mqttng.Message) bool {
	if c.topicFilter != nil && !mqttng.TopicMatch(*c.topicFilter, msg.Topic) {
		return false
	}
	if c.qos != nil && *c.qos != msg.QoS {
		return false
	}
	if c.retained != nil && *c.retained != msg.Retain {
		return false
	}
	if c.contentTypeRegexp != nil && !c.contentTypeRegexp.MatchString(msg.ContentType) {
		return false
	}
	if c.responseTopicRegexp != nil && !c.responseTopicRegexp.MatchString(msg.ResponseTopic) {
		return false
	}
	return c.matchUserProperties(msg.UserProperties)
}

func (c *Condition) matchUserProperties(props []mqttng.StringPair) bool {
	for _, m := range c.userProperties {
		found := slices.ContainsFunc(props, func(p mqttng.StringPair) bool {
			return m.keyPattern.MatchString(p.Key) && m.valuePattern.MatchString(p.Value)
		})
		if !found {
			return false
		}
	}
	return true
}

// Route dispatches msg and returns the number of handlers called, the
// fallback included.
func (r *Router) Route(msg *mqttng.Message) int {
	if msg == nil {
		return 0
	}

	r.mu.RLock()
	var matched []Handler
	for _, reg := range r.handlers {
		if reg.condition.matches(msg) {
			matched = append(matched, reg.handler)
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	if len(matched) == 0 && fallback != nil {
		matched = append(matched, fallback)
	}

	for _, handler := range matched {
		handler(msg)
	}
	return len(matched)
}

// Filters returns the distinct registered topic filters in sorted order.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filters []string
	for _, reg := range r.handlers {
		if reg.condition.topicFilter != nil {
			filters = append(filters, *reg.condition.topicFilter)
		}
	}
	slices.Sort(filters)
	return slices.Compact(filters)
}

// Subscriptions returns one subscription per registered filter at qos.
func (r *Router) Subscriptions(qos mqttng.QoS) []mqttng.Subscription {
	filters := r.Filters()
	subs := make([]mqttng.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = mqttng.Subscription{Filter: f, QoS: qos}
	}
	return subs
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes all handlers and the fallback.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = nil
	r.fallback = nil
	r.mu.Unlock()
}

// MessageHandler adapts the router for Client.Subscribe and WithMessageHandler.
func (r *Router) MessageHandler() mqttng.MessageHandler {
	return func(msg *mqttng.Message) {
		r.Route(msg)
	}
}
