package chromecast

import "encoding/json"

const (
	nsConnection = "urn:x-cast:com.google.cast.tp.connection"
	nsHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	nsReceiver   = "urn:x-cast:com.google.cast.receiver"
	nsMedia      = "urn:x-cast:com.google.cast.media"

	defaultReceiverAppID = "CC1AD845"

	senderID       = "sender-0"
	receiverDestID = "receiver-0"
)

type connectPayload struct {
	Type string `json:"type"`
}

type pingPayload struct {
	Type string `json:"type"`
}

type launchPayload struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
	AppID     string `json:"appId"`
}

type mediaInfo struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
	StreamType  string `json:"streamType"`
}

type loadPayload struct {
	Type        string    `json:"type"`
	RequestID   int       `json:"requestId"`
	Autoplay    bool      `json:"autoplay"`
	CurrentTime float64   `json:"currentTime"`
	Media       mediaInfo `json:"media"`
}

type mediaCommandPayload struct {
	Type           string  `json:"type"`
	RequestID      int     `json:"requestId"`
	MediaSessionID int     `json:"mediaSessionId"`
	CurrentTime    float64 `json:"currentTime,omitempty"`
}

type volumeValue struct {
	Level float64 `json:"level"`
}

type setVolumePayload struct {
	Type      string      `json:"type"`
	RequestID int         `json:"requestId"`
	Volume    volumeValue `json:"volume"`
}

// inboundEnvelope is the minimal shape every inbound JSON payload is
// checked against to decide dispatch, per spec.md §4.3.1.
type inboundEnvelope struct {
	Type      string          `json:"type"`
	RequestID *int            `json:"requestId"`
	Status    json.RawMessage `json:"status"`
}

type receiverApplication struct {
	AppID       string `json:"appId"`
	TransportID string `json:"transportId"`
	SessionID   string `json:"sessionId"`
}

type receiverStatus struct {
	Applications []receiverApplication `json:"applications"`
}

type mediaStatusEntry struct {
	MediaSessionID int     `json:"mediaSessionId"`
	CurrentTime    float64 `json:"currentTime"`
	PlayerState    string  `json:"playerState"`
	Media          *struct {
		Duration float64 `json:"duration"`
	} `json:"media,omitempty"`
}

func mustMarshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// These payloads are built from our own fixed structs; a marshal
		// failure here means a programming error, not a runtime condition.
		panic("chromecast: marshal payload: " + err.Error())
	}
	return string(b)
}
