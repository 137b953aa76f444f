package router

// inbound events
const (
	EventAuthenticate  = "authenticate"
	EventSelectSong    = "select_song"
	EventQuitSong      = "quit_song"
	EventGetActiveSong = "get_active_song"
)

// outbound events
const (
	EventAuthSuccess      = "auth_success"
	EventSongSelected     = "song_selected"
	EventSongQuit         = "song_quit"
	EventConnectionStatus = "connection_status"
	EventAck              = "ack"
)

const authSuccessMessage = "Authenticated"

type ServerMessage struct {
	Event   string `json:"event"`
	AckID   string `json:"ackId,omitempty"`
	Payload any    `json:"payload"`
}

type AuthSuccessPayload struct {
	Connected    bool    `json:"connected"`
	Message      string  `json:"message"`
	ActiveSongID *string `json:"activeSongId,omitempty"`
}

type SongSelectedPayload struct {
	SongID string `json:"songId"`
}

type SongQuitPayload struct{}
