package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/z1x2c3v4b5n6/wechat/models"
)

var ErrInvalidFrame = errors.New("invalid frame")

// Action is the closed set of request and push frame types. The session
// dispatch switches over these constants; anything else is an unknown action.
type Action string

const (
	ActionRegister      Action = "register"
	ActionLogin         Action = "login"
	ActionLogout        Action = "logout"
	ActionListFriends   Action = "list_friends"
	ActionAddFriend     Action = "add_friend"
	ActionRemoveFriend  Action = "remove_friend"
	ActionUpdateProfile Action = "update_profile"
	ActionCreateGroup   Action = "create_group"
	ActionJoinGroup     Action = "join_group"
	ActionLeaveGroup    Action = "leave_group"
	ActionListGroups    Action = "list_groups"
	ActionSendMessage   Action = "send_message"
	ActionBroadcast     Action = "broadcast"
)

// Server-pushed frame types, never sent by clients.
const (
	ActionNewMessage   Action = "new_message"
	ActionStatus       Action = "status"
	ActionAnnouncement Action = "announcement"
	ActionDisconnect   Action = "disconnect"
	ActionAuth         Action = "auth"  // auth-required error frames
	ActionError        Action = "error" // protocol error frames
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	RecipientUser  = "user"
	RecipientGroup = "group"

	ContentText = "text"
	ContentFile = "file"
)

// Request is one client frame. Fields beyond Action are action-specific;
// Content is kept raw so file payloads ({name, data}) pass through opaquely.
type Request struct {
	Action         Action          `json:"action"`
	Username       string          `json:"username,omitempty"`
	Password       string          `json:"password,omitempty"`
	Nickname       string          `json:"nickname,omitempty"`
	FriendUsername string          `json:"friend_username,omitempty"`
	FriendID       int64           `json:"friend_id,omitempty"`
	Profile        *models.Profile `json:"profile,omitempty"`
	Name           string          `json:"name,omitempty"`
	GroupID        int64           `json:"group_id,omitempty"`
	RecipientType  string          `json:"recipient_type,omitempty"`
	RecipientID    int64           `json:"recipient_id,omitempty"`
	ContentType    string          `json:"content_type,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
}

// Response is one server frame, either a reply to a request (Action echoes
// the request) or an unsolicited push.
type Response struct {
	Action          Action           `json:"action"`
	Status          string           `json:"status"`
	Message         string           `json:"message,omitempty"`
	User            *models.User     `json:"user,omitempty"`
	Friends         []models.User    `json:"friends,omitempty"`
	Groups          []models.Group   `json:"groups,omitempty"`
	OfflineMessages []models.Message `json:"offline_messages,omitempty"`
	GroupID         int64            `json:"group_id,omitempty"`
	MessageID       int64            `json:"message_id,omitempty"`
	Data            interface{}      `json:"data,omitempty"`
}

// MessageData is the payload of a pushed new_message frame.
type MessageData struct {
	Sender        *models.User    `json:"sender"`
	RecipientType string          `json:"recipient_type"`
	RecipientID   int64           `json:"recipient_id"`
	ContentType   string          `json:"content_type"`
	Content       json.RawMessage `json:"content"`
	CreatedAt     string          `json:"created_at"`
}

// StatusData is the payload of a pushed status frame.
type StatusData struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

func OK(action Action) Response {
	return Response{Action: action, Status: StatusOK}
}

func Error(action Action, message string) Response {
	return Response{Action: action, Status: StatusError, Message: message}
}

// Decode parses one request frame: a single line with the trailing newline
// already stripped.
func Decode(line []byte) (*Request, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, ErrInvalidFrame
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, ErrInvalidFrame
	}
	return &req, nil
}

// Encode renders a frame as one newline-terminated JSON line. The encoder
// escapes control characters, so a record can never contain an embedded raw
// newline; the check guards against non-JSON payload types slipping through.
func Encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(b, '\n') >= 0 {
		return nil, ErrInvalidFrame
	}
	return append(b, '\n'), nil
}
