package realtime

import (
	"encoding/json"

	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/types"
)

// MessageType tags every frame exchanged on the realtime channel
type MessageType string

// Server to client
const (
	TypeModelUpdate        MessageType = "MODEL_UPDATE"
	TypeActivityUpdate     MessageType = "ACTIVITY_UPDATE"
	TypeContributionUpdate MessageType = "CONTRIBUTION_UPDATE"
	TypeStatsUpdate        MessageType = "STATS_UPDATE"
	TypeUserTokensUpdate   MessageType = "USER_TOKENS_UPDATE"
)

// Client to server
const (
	TypeAuthenticate    MessageType = "AUTHENTICATE"
	TypeRegisterCompute MessageType = "REGISTER_COMPUTE"
)

// Message is a server to client frame. Data carries the entity snapshot for
// every type except USER_TOKENS_UPDATE, which uses UserID and Tokens.
type Message struct {
	Type   MessageType `json:"type"`
	Data   interface{} `json:"data,omitempty"`
	UserID int64       `json:"userId,omitempty"`
	Tokens *int        `json:"tokens,omitempty"`
}

// StatsData is the STATS_UPDATE payload
type StatsData struct {
	ActiveModels          int `json:"activeModels"`
	ComputeContributors   int `json:"computeContributors"`
	PendingContributions  int `json:"pendingContributions"`
	AcceptedContributions int `json:"acceptedContributions"`
}

// ModelUpdate builds a MODEL_UPDATE message
func ModelUpdate(m *models.Model) Message {
	return Message{Type: TypeModelUpdate, Data: m}
}

// ActivityUpdate builds an ACTIVITY_UPDATE message
func ActivityUpdate(a *models.Activity) Message {
	return Message{Type: TypeActivityUpdate, Data: a}
}

// ContributionUpdate builds a CONTRIBUTION_UPDATE message
func ContributionUpdate(c *models.Contribution) Message {
	return Message{Type: TypeContributionUpdate, Data: c}
}

// StatsUpdate builds a STATS_UPDATE message
func StatsUpdate(st types.PlatformStats) Message {
	return Message{Type: TypeStatsUpdate, Data: StatsData{
		ActiveModels:          st.ActiveModels,
		ComputeContributors:   st.ComputeContributors,
		PendingContributions:  st.PendingContributions,
		AcceptedContributions: st.AcceptedContributions,
	}}
}

// UserTokensUpdate builds a USER_TOKENS_UPDATE message
func UserTokensUpdate(userID int64, tokens int) Message {
	return Message{Type: TypeUserTokensUpdate, UserID: userID, Tokens: &tokens}
}

// inbound is a client to server frame. UserID is accepted for wire
// compatibility but never trusted on its own.
type inbound struct {
	Type   MessageType `json:"type"`
	Token  string      `json:"token,omitempty"`
	UserID *int64      `json:"userId,omitempty"`
}

func decodeInbound(raw []byte) (inbound, error) {
	var in inbound
	err := json.Unmarshal(raw, &in)
	return in, err
}

// frame is an encoded message queued for one connection
type frame struct {
	kind    MessageType
	payload []byte
}

func encode(msg Message) (frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return frame{}, err
	}
	return frame{kind: msg.Type, payload: b}, nil
}
