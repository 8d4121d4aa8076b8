// internal/api/nats.go
package api

import (
	"time"

	"github.com/erilali/place/internal/hub"
	"github.com/erilali/place/internal/logger"
	"github.com/nats-io/nats.go"
)

const jetstreamRetention = 30 * time.Minute

// Streams the server keeps on JetStream.
var streams = []struct {
	Name     string
	Subjects []string
}{
	{Name: "PLACE_CHANGES", Subjects: []string{hub.ChangeSubjectPrefix + ".>"}},
	{Name: "PLACE_PRESENCE", Subjects: []string{hub.PresenceSubjectPrefix + ".*"}},
}

// ConnectNATS connects to url and prepares the JetStream streams. NATS is
// optional: on any failure it logs a warning and returns nil values, and the
// server runs without the event feed.
func ConnectNATS(url string, l *logger.Logger) (*nats.Conn, nats.JetStreamContext) {
	if url == "" {
		url = nats.DefaultURL
	}
	l.Infof("Connecting to NATS at %s", url)
	nc, err := nats.Connect(url, nats.Name("place-server"), nats.Timeout(2*time.Second))
	if err != nil {
		l.Errorf("Error connecting to NATS: %v", err)
		l.Warn("Running without NATS connection. The event feed is disabled.")
		return nil, nil
	}
	l.Info("Successfully connected to NATS")

	js, err := nc.JetStream()
	if err != nil {
		l.Errorf("Error getting JetStream context: %v", err)
		l.Warn("Running without JetStream. The event feed is disabled.")
		return nc, nil
	}
	ensureStreams(js, l)
	return nc, js
}

func ensureStreams(js nats.JetStreamContext, l *logger.Logger) {
	for _, s := range streams {
		cfg := &nats.StreamConfig{
			Name:     s.Name,
			Subjects: s.Subjects,
			Storage:  nats.FileStorage,
			MaxAge:   jetstreamRetention,
		}
		if _, err := js.StreamInfo(cfg.Name); err != nil {
			if _, err := js.AddStream(cfg); err != nil {
				l.Errorf("Error creating stream %s: %v", s.Name, err)
				continue
			}
			l.Infof("Created stream: %s", s.Name)
			continue
		}
		if _, err := js.UpdateStream(cfg); err != nil {
			l.Errorf("Error updating stream %s: %v", s.Name, err)
			continue
		}
		l.Infof("Updated stream: %s", s.Name)
	}
}

func streamHealth(js nats.JetStreamContext) map[string]interface{} {
	info := make(map[string]interface{}, len(streams))
	for _, s := range streams {
		si, err := js.StreamInfo(s.Name)
		if err != nil {
			info[s.Name] = map[string]interface{}{"error": err.Error()}
			continue
		}
		info[s.Name] = map[string]interface{}{
			"messages":  si.State.Msgs,
			"bytes":     si.State.Bytes,
			"subjects":  si.Config.Subjects,
			"retention": si.Config.MaxAge.String(),
		}
	}
	return info
}
