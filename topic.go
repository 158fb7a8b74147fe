package mqttng

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopic       = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName checks a PUBLISH topic: non-empty UTF-8 without NUL or wildcards.
// MQTT v5.0 spec: Section 4.7.1
func ValidateTopicName(topic string) error {
	if topic == "" || len(topic) > maxUint16 || !utf8.ValidString(topic) {
		return ErrInvalidTopic
	}

	if strings.ContainsAny(topic, "\x00+#") {
		return ErrInvalidTopic
	}

	return nil
}

// ValidateTopicFilter checks a SUBSCRIBE filter, including wildcard placement.
func ValidateTopicFilter(filter string) error {
	if filter == "" || len(filter) > maxUint16 || !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}
	if strings.IndexByte(filter, 0) >= 0 {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, string(topicSeparator))
	for i, level := range levels {
		if strings.ContainsRune(level, singleLevelWildcard) && level != "+" {
			return ErrInvalidTopicFilter
		}
		if strings.ContainsRune(level, multiLevelWildcard) {
			if level != "#" || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch reports whether topic matches filter. Topics starting with '$'
// never match a leading wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	more := true
	for {
		flevel, frest, fnext := strings.Cut(filter, "/")
		if flevel == "#" {
			return true
		}
		if !more {
			return false
		}

		tlevel, trest, tnext := strings.Cut(topic, "/")
		if flevel != "+" && flevel != tlevel {
			return false
		}
		if !fnext {
			return !tnext
		}

		filter, topic, more = frest, trest, tnext
	}
}
