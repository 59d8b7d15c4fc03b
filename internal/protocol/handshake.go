package protocol

// HandshakeRequest is the JSON body of the client's Handshake packet.
type HandshakeRequest struct {
	Sys  HandshakeSys   `json:"sys"`
	User map[string]any `json:"user"`
}

// HandshakeSys identifies the client implementation.
type HandshakeSys struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// HandshakeResponse is the JSON body of the server's Handshake packet.
type HandshakeResponse struct {
	Code int              `json:"code"`
	Sys  HandshakeSysInfo `json:"sys"`
	User map[string]any   `json:"user,omitempty"`
}

// HandshakeSysInfo carries the negotiated session parameters.
type HandshakeSysInfo struct {
	// Heartbeat is the interval in seconds; zero disables heartbeats.
	Heartbeat float64          `json:"heartbeat,omitempty"`
	Dict      map[string]any   `json:"dict,omitempty"`
	Protos    *HandshakeProtos `json:"protos,omitempty"`
}

// HandshakeProtos holds the schema tables for each direction: client for bodies the
// client sends, server for bodies the server sends.
type HandshakeProtos struct {
	Client map[string]any `json:"client,omitempty"`
	Server map[string]any `json:"server,omitempty"`
}
