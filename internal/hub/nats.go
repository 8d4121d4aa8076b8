// internal/hub/nats.go
// Publishes accepted changes and presence events to NATS JetStream.
package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/logger"
	"github.com/nats-io/nats.go"
)

// Presence events.
const (
	PresenceLogin  = "login"
	PresenceLogout = "logout"
)

// Subjects used on NATS.
const (
	ChangeSubjectPrefix   = "place.changes"
	PresenceSubjectPrefix = "place.presence"
)

// Publisher receives every accepted change and login/logout. Implementations
// must not block for long: they run on connection handler goroutines.
type Publisher interface {
	PublishChange(cell board.Cell)
	PublishPresence(identity string, event string)
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) PublishChange(board.Cell)        {}
func (NopPublisher) PublishPresence(string, string) {}

// NATSPublisher publishes JSON events to JetStream.
type NATSPublisher struct {
	js     nats.JetStreamContext
	logger *logger.Logger
}

// NewNATSPublisher creates a publisher. A nil js yields a publisher that does nothing.
func NewNATSPublisher(js nats.JetStreamContext, l *logger.Logger) *NATSPublisher {
	return &NATSPublisher{js: js, logger: l}
}

type changeEvent struct {
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Owner     string `json:"owner"`
	Color     int    `json:"color"`
	ColorName string `json:"color_name"`
	Time      int64  `json:"time"`
}

type presenceEvent struct {
	Identity  string `json:"identity"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

// PublishChange publishes cell on place.changes.<row>.<col>.
func (p *NATSPublisher) PublishChange(cell board.Cell) {
	if p.js == nil {
		return
	}
	subject := fmt.Sprintf("%s.%d.%d", ChangeSubjectPrefix, cell.Row, cell.Col)
	p.publish(subject, changeEvent{
		Row:       cell.Row,
		Col:       cell.Col,
		Owner:     cell.Owner,
		Color:     int(cell.Color),
		ColorName: cell.Color.Name(),
		Time:      cell.Time,
	})
}

// PublishPresence publishes a login or logout on place.presence.<event>.
func (p *NATSPublisher) PublishPresence(identity string, event string) {
	if p.js == nil {
		return
	}
	subject := fmt.Sprintf("%s.%s", PresenceSubjectPrefix, event)
	p.publish(subject, presenceEvent{
		Identity:  identity,
		Event:     event,
		Timestamp: time.Now().Unix(),
	})
}

func (p *NATSPublisher) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Errorf("Failed to marshal %s event: %v", subject, err)
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.logger.Errorf("Failed to publish to NATS: %v", err)
	}
}
