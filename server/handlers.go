package server

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/z1x2c3v4b5n6/wechat/db"
	"github.com/z1x2c3v4b5n6/wechat/models"
	"github.com/z1x2c3v4b5n6/wechat/protocol"
)

func (s *Server) handleListFriends(sess *Session) {
	friends, err := s.db.ListFriends(sess.user.ID)
	if err != nil {
		log.Printf("list friends error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionListFriends, "list friends failed"))
		return
	}

	resp := protocol.OK(protocol.ActionListFriends)
	resp.Friends = friends
	s.reply(sess, resp)
}

func (s *Server) handleAddFriend(sess *Session, req *protocol.Request) {
	_, err := s.db.AddFriend(sess.user.ID, req.FriendUsername)
	switch {
	case err == nil:
		resp := protocol.OK(protocol.ActionAddFriend)
		resp.Message = "added"
		s.reply(sess, resp)
	case errors.Is(err, db.ErrNotFound):
		s.reply(sess, protocol.Error(protocol.ActionAddFriend, "not found"))
	case errors.Is(err, db.ErrSelfFriend):
		s.reply(sess, protocol.Error(protocol.ActionAddFriend, "cannot friend self"))
	case errors.Is(err, db.ErrAlreadyFriends):
		s.reply(sess, protocol.Error(protocol.ActionAddFriend, "already friends"))
	default:
		log.Printf("add friend error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionAddFriend, "add friend failed"))
	}
}

func (s *Server) handleRemoveFriend(sess *Session, req *protocol.Request) {
	if err := s.db.RemoveFriend(sess.user.ID, req.FriendID); err != nil {
		log.Printf("remove friend error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionRemoveFriend, "remove friend failed"))
		return
	}

	resp := protocol.OK(protocol.ActionRemoveFriend)
	resp.Message = "removed"
	s.reply(sess, resp)
}

func (s *Server) handleUpdateProfile(sess *Session, req *protocol.Request) {
	if req.Profile != nil {
		if err := s.db.UpdateProfile(sess.user.ID, req.Profile); err != nil {
			log.Printf("update profile error: %v", err)
			s.reply(sess, protocol.Error(protocol.ActionUpdateProfile, "update failed"))
			return
		}
		// Keep the session's copy current so pushed frames carry the new
		// profile without a re-login.
		if req.Profile.Nickname != nil {
			sess.user.Nickname = *req.Profile.Nickname
		}
		if req.Profile.Avatar != nil {
			sess.user.Avatar = *req.Profile.Avatar
		}
		if req.Profile.Signature != nil {
			sess.user.Signature = *req.Profile.Signature
		}
	}

	resp := protocol.OK(protocol.ActionUpdateProfile)
	resp.Message = "profile updated"
	s.reply(sess, resp)
}

func (s *Server) handleCreateGroup(sess *Session, req *protocol.Request) {
	name := req.Name
	if name == "" {
		name = "new group"
	}

	groupID, err := s.db.CreateGroup(sess.user.ID, name)
	if err != nil {
		log.Printf("create group error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionCreateGroup, "create group failed"))
		return
	}

	resp := protocol.OK(protocol.ActionCreateGroup)
	resp.GroupID = groupID
	s.reply(sess, resp)
}

func (s *Server) handleJoinGroup(sess *Session, req *protocol.Request) {
	if err := s.db.JoinGroup(sess.user.ID, req.GroupID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.reply(sess, protocol.Error(protocol.ActionJoinGroup, "group not found"))
		} else {
			log.Printf("join group error: %v", err)
			s.reply(sess, protocol.Error(protocol.ActionJoinGroup, "join group failed"))
		}
		return
	}

	s.reply(sess, protocol.OK(protocol.ActionJoinGroup))
}

func (s *Server) handleLeaveGroup(sess *Session, req *protocol.Request) {
	if err := s.db.LeaveGroup(sess.user.ID, req.GroupID); err != nil {
		log.Printf("leave group error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionLeaveGroup, "leave group failed"))
		return
	}

	resp := protocol.OK(protocol.ActionLeaveGroup)
	resp.Message = "left group"
	s.reply(sess, resp)
}

func (s *Server) handleListGroups(sess *Session) {
	groups, err := s.db.ListGroups(sess.user.ID)
	if err != nil {
		log.Printf("list groups error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionListGroups, "list groups failed"))
		return
	}

	resp := protocol.OK(protocol.ActionListGroups)
	resp.Groups = groups
	s.reply(sess, resp)
}

// handleBroadcast pushes an admin announcement to every other online user.
// Announcements are never persisted and never replayed to offline users.
func (s *Server) handleBroadcast(sess *Session, req *protocol.Request) {
	if sess.user.Role != models.RoleAdmin {
		s.reply(sess, protocol.Error(protocol.ActionBroadcast, "no permission"))
		return
	}

	var content string
	if len(req.Content) > 0 {
		if err := json.Unmarshal(req.Content, &content); err != nil {
			s.reply(sess, protocol.Error(protocol.ActionBroadcast, "invalid content"))
			return
		}
	}

	ann := protocol.OK(protocol.ActionAnnouncement)
	ann.Message = content
	if frame, err := protocol.Encode(ann); err == nil {
		s.presence.Broadcast(sess.user.ID, frame)
	}

	resp := protocol.OK(protocol.ActionBroadcast)
	resp.Message = "announcement sent"
	s.reply(sess, resp)
}
