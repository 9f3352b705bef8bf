package speech

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"prompter/log"
)

const assemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// wsConn is the minimal connection surface the stream pump needs,
// so tests can run against a local websocket server.
type wsConn interface {
	WriteBinary(pcm []byte) error
	WriteTerminate() error
	Recv() (Event, error)
	Close() error
}

// assemblyAIMessage covers the realtime v3 protocol. Begin/Termination
// frames carry session metadata; Turn frames carry transcript text.
type assemblyAIMessage struct {
	Type               string  `json:"type"`
	MessageType        string  `json:"message_type"` // legacy field, tolerated
	ID                 string  `json:"id"`
	Transcript         string  `json:"transcript"`
	Text               string  `json:"text"` // legacy field, tolerated
	EndOfTurn          bool    `json:"end_of_turn"`
	TurnIsFormatted    bool    `json:"turn_is_formatted"`
	AudioDurationSec   float64 `json:"audio_duration_seconds"`
	SessionDurationSec float64 `json:"session_duration_seconds"`
}

type assemblyAIConn struct {
	conn *websocket.Conn
}

func dial(cfg Config) (wsConn, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("end_utterance_silence_threshold", fmt.Sprintf("%d", cfg.EndSilenceMs))
	endpoint.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), header)
	if err != nil {
		return nil, fmt.Errorf("assemblyai dial: %w", err)
	}
	return &assemblyAIConn{conn: conn}, nil
}

func (c *assemblyAIConn) WriteBinary(pcm []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (c *assemblyAIConn) WriteTerminate() error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
}

func (c *assemblyAIConn) Recv() (Event, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		ev, ok := parseMessage(data)
		if ok {
			return ev, nil
		}
	}
}

func (c *assemblyAIConn) Close() error {
	return c.conn.Close()
}

// parseMessage extracts a transcript event from an inbound frame.
// Session bookkeeping frames are logged and skipped.
func parseMessage(data []byte) (Event, bool) {
	var msg assemblyAIMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("unparseable transcription message: %v", err)
		return Event{}, false
	}

	switch msg.Type {
	case "Begin":
		log.Info("transcription session started: " + msg.ID)
		return Event{}, false
	case "Termination":
		log.Infof("transcription session terminated: audio=%.2fs session=%.2fs",
			msg.AudioDurationSec, msg.SessionDurationSec)
		return Event{}, false
	}

	text := strings.TrimSpace(msg.Transcript)
	if text == "" {
		text = strings.TrimSpace(msg.Text)
	}
	if text == "" {
		return Event{}, false
	}

	kind := msg.Type
	if kind == "" {
		kind = msg.MessageType
	}
	final := msg.EndOfTurn || msg.TurnIsFormatted ||
		strings.Contains(strings.ToLower(kind), "final")

	return Event{Text: text, Final: final}, true
}
