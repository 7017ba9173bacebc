// Package signaling implements the JSON control envelope exchanged
// over the framed reliable transport (spec §6): authentication,
// group management, mute/speaking toggles, and WebRTC offer/answer
// signaling for the peer data channel.
//
// Every message is one flat, tagged struct keyed by its "type" field
// — the explicit tagged-union decoding design note §9 calls for,
// grounded directly on the teacher's ControlMsg
// (server/protocol.go): one struct, every field optional via
// `omitempty`, dispatched through a switch on Type rather than
// reflection-style probing of which fields happen to be set.
package signaling

// Recognized inbound envelope types (spec §6).
const (
	TypeAuth           = "auth"
	TypeDisconnect     = "disconnect"
	TypeListGroups     = "list_groups"
	TypeListPlayers    = "list_players"
	TypeCreateGroup    = "create_group"
	TypeJoinGroup      = "join_group"
	TypeLeaveGroup     = "leave_group"
	TypeGroupSettings  = "group_settings"
	TypeUpdateMute     = "update_mute"
	TypeUpdateSpeaking = "update_speaking"
	TypeSDPOffer       = "sdp_offer"
	TypeICECandidate   = "ice_candidate"
	TypeResume         = "resume"
)

// Recognized outbound envelope types (spec §6).
const (
	TypeHello               = "hello"
	TypeAuthenticated        = "authenticated"
	TypePendingGameSession   = "pending_game_session"
	TypeGameSessionReady     = "game_session_ready"
	TypeGroupCreated         = "group_created"
	TypeGroupJoined          = "group_joined"
	TypeGroupLeft            = "group_left"
	TypeGroupMembersUpdated  = "group_members_updated"
	TypeGroupList            = "group_list"
	TypePlayerList           = "player_list"
	TypeUserSpeakingStatus   = "user_speaking_status"
	TypeUserMuteStatus       = "user_mute_status"
	TypeSetMicMute           = "set_mic_mute"
	TypePositionUpdate       = "position_update"
	TypeAudio                = "audio"
	TypeSDPAnswer            = "sdp_answer"
	TypeICECandidateOut      = "ice_candidate"
	TypeLatency              = "latency"
	TypeError                = "error"
	TypeDisconnected         = "disconnected"
)

// Envelope is the single wire shape for every JSON control message in
// both directions. Only the fields relevant to Type are populated;
// unrecognized types are routed to a single "ignored" branch by the
// dispatcher, per design note §9, rather than causing a decode error.
type Envelope struct {
	Type string `json:"type"`

	// auth / authenticated
	Name         string `json:"name,omitempty"`
	Token        string `json:"token,omitempty"`
	SampleRate   uint32 `json:"sample_rate,omitempty"`
	AckCode      int    `json:"ack_code,omitempty"`

	// disconnect / disconnected / error
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`

	// group operations
	GroupID    string   `json:"group_id,omitempty"`
	GroupName  string   `json:"group_name,omitempty"`
	MaxMembers int      `json:"max_members,omitempty"`
	Isolated   bool     `json:"isolated,omitempty"`
	Members    []string `json:"members,omitempty"`
	Groups     []GroupView `json:"groups,omitempty"`

	// player_list / position_update / status deltas
	Players  []PlayerView `json:"players,omitempty"`
	PlayerID string       `json:"player_id,omitempty"`
	Muted    bool         `json:"muted,omitempty"`
	Speaking bool         `json:"speaking,omitempty"`
	X, Y, Z  float64      `json:"x,omitempty"`

	// audio fallback (base64 of the binary media frame, via Go's
	// automatic []byte<->base64 JSON marshaling)
	Payload []byte `json:"payload,omitempty"`

	// sdp_offer / sdp_answer / ice_candidate
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	// latency
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// resume
	ResumeToken string `json:"resume_token,omitempty"`
}

// GroupView is the JSON-friendly projection of internal/groups.Group:
// member ids as strings instead of a map keyed by uuid.UUID.
type GroupView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	CreatorID  string   `json:"creator_id"`
	Members    []string `json:"members"`
	Permanent  bool     `json:"permanent,omitempty"`
	Isolated   bool     `json:"isolated"`
	MaxMembers int      `json:"max_members,omitempty"`
}

// PlayerView is the JSON-friendly projection of one session.Participant
// for player_list responses.
type PlayerView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Muted    bool   `json:"muted"`
	Speaking bool   `json:"speaking"`
}
