// Package publisher forwards call lifecycle events to an MQTT broker so
// dashboards and recorders outside the hub can follow calls without a
// WebSocket session.
package publisher

import "context"

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
