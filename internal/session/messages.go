package session

// Inbound event names.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventInterrupt  = "interrupt"
	EventAudio      = "audio_stream"
	EventPing       = "ping"
)

// Outbound event names.
const (
	EventServerStatus  = "server_status"
	EventPong          = "pong"
	EventAgentResponse = "agent_response"
	EventStopAudio     = "stop_audio"
)

// Fixed reply texts.
const (
	NoAudioReply     = "I didn't receive any audio."
	InaudibleReply   = "I couldn't hear you clearly."
	ServerErrorReply = "Sorry, there was a server error processing your audio."
)

type ServerStatus struct {
	Msg    string `json:"msg"`
	Status string `json:"status"`
}

type Pong struct {
	Msg string `json:"msg"`
}

type AgentResponse struct {
	Text string `json:"text"`
}

type StopAudio struct{}

// Emitter delivers a named message to one session. It is the transport's
// only outbound primitive and must be safe for concurrent use.
type Emitter interface {
	Emit(sessionID, event string, payload any) error
}
