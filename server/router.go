package server

import (
	"encoding/json"
	"log"
	"time"

	"github.com/z1x2c3v4b5n6/wechat/models"
	"github.com/z1x2c3v4b5n6/wechat/protocol"
)

// handleSendMessage resolves a send request's recipients, attempts live
// delivery and records the persistence outcome. A storage fault yields a
// plain "send failed" with no partial acknowledgment; transport faults on
// pushes never do, they only lower that recipient's delivery flag.
func (s *Server) handleSendMessage(sess *Session, req *protocol.Request) {
	recipientType := req.RecipientType
	if recipientType == "" {
		recipientType = protocol.RecipientUser
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = protocol.ContentText
	}
	content := req.Content
	if len(content) == 0 {
		content = json.RawMessage(`""`)
	}

	var messageID int64
	var err error
	switch recipientType {
	case protocol.RecipientUser:
		messageID, err = s.routeDirect(sess.user, req.RecipientID, contentType, content)
	case protocol.RecipientGroup:
		messageID, err = s.routeGroup(sess.user, req.RecipientID, contentType, content)
	default:
		s.reply(sess, protocol.Error(protocol.ActionSendMessage, "unknown recipient type"))
		return
	}
	if err != nil {
		log.Printf("send error from %s: %v", sess.user.Username, err)
		s.reply(sess, protocol.Error(protocol.ActionSendMessage, "send failed"))
		return
	}

	resp := protocol.OK(protocol.ActionSendMessage)
	resp.MessageID = messageID
	s.reply(sess, resp)
}

// routeDirect attempts one live push and persists one row; the delivered
// flag records the push outcome.
func (s *Server) routeDirect(sender *models.User, recipientID int64, contentType string, content json.RawMessage) (int64, error) {
	createdAt := time.Now().UTC()
	frame, err := newMessageFrame(sender, protocol.RecipientUser, recipientID, contentType, content, createdAt)
	if err != nil {
		return 0, err
	}

	delivered := s.presence.Push(recipientID, frame)
	return s.db.SaveMessage(sender.ID, protocol.RecipientUser, recipientID, contentType, content, createdAt, delivered)
}

// routeGroup fans out to every member except the sender and persists one row
// per member, all addressed to the group id. The sender's own row is always
// delivered; the others record their push outcome. Rows written before a
// storage fault stay — redelivery over loss.
func (s *Server) routeGroup(sender *models.User, groupID int64, contentType string, content json.RawMessage) (int64, error) {
	members, err := s.db.GroupMembers(groupID)
	if err != nil {
		return 0, err
	}

	createdAt := time.Now().UTC()
	frame, err := newMessageFrame(sender, protocol.RecipientGroup, groupID, contentType, content, createdAt)
	if err != nil {
		return 0, err
	}

	var lastID int64
	for _, memberID := range members {
		sent := false
		if memberID != sender.ID {
			sent = s.presence.Push(memberID, frame)
		}
		id, err := s.db.SaveMessage(sender.ID, protocol.RecipientGroup, groupID, contentType, content, createdAt, sent || memberID == sender.ID)
		if err != nil {
			return 0, err
		}
		lastID = id
	}

	return lastID, nil
}

func newMessageFrame(sender *models.User, recipientType string, recipientID int64, contentType string, content json.RawMessage, createdAt time.Time) ([]byte, error) {
	resp := protocol.OK(protocol.ActionNewMessage)
	resp.Data = protocol.MessageData{
		Sender:        sender,
		RecipientType: recipientType,
		RecipientID:   recipientID,
		ContentType:   contentType,
		Content:       content,
		CreatedAt:     createdAt.Format(time.RFC3339),
	}
	return protocol.Encode(resp)
}
