package mqttng

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		topic string
		valid bool
	}{
		{"telemetry/temp", true},
		{"/leading/slash", true},
		{"trailing/", true},
		{"$SYS/info", true},
		{"", false},
		{"a/+/b", false},
		{"a/#", false},
		{"nul\x00", false},
		{string([]byte{0xFF}), false},
		{strings.Repeat("a", 65536), false},
	}

	for _, tt := range tests {
		err := ValidateTopicName(tt.topic)
		if tt.valid {
			assert.NoError(t, err, "topic %q", tt.topic)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTopic, "topic %q", tt.topic)
		}
	}
}

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter string
		valid  bool
	}{
		{"devices/+/cmd", true},
		{"devices/#", true},
		{"#", true},
		{"+", true},
		{"+/+/#", true},
		{"", false},
		{"devices/cmd#", false},
		{"devices/#/cmd", false},
		{"devices/a+/cmd", false},
		{"nul\x00", false},
	}

	for _, tt := range tests {
		err := ValidateTopicFilter(tt.filter)
		if tt.valid {
			assert.NoError(t, err, "filter %q", tt.filter)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTopicFilter, "filter %q", tt.filter)
		}
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b", false},
		{"a/b", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/d", false},
		{"a/+", "a/", true},
		{"+/+", "/b", true},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"a/b/", "a/b/", true},
		{"a/b/", "a/b", false},
		{"#", "$SYS/info", false},
		{"+/info", "$SYS/info", false},
		{"$SYS/#", "$SYS/info", true},
		{"", "a", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.match, TopicMatch(tt.filter, tt.topic), "TopicMatch(%q, %q)", tt.filter, tt.topic)
	}
}

func BenchmarkTopicMatch(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		TopicMatch("devices/+/cmd/#", "devices/d1/cmd/reboot/now")
	}
}
