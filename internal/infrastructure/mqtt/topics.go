package mqtt

import (
	"fmt"
	"strings"
)

// StatusTopic returns the retained bridge status topic for a namespace.
//
// Example: iot/bridge/status
func StatusTopic(namespace string) string {
	return fmt.Sprintf("%s/bridge/status", namespace)
}

// ValidatePublishTopic rejects topics a client may not publish to:
// empty topics and topics containing wildcards.
func ValidatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// MatchTopic reports whether topic matches a subscription filter using
// MQTT wildcard rules: + matches one level, a trailing # matches the rest.
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
