package server

import (
	"bufio"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/z1x2c3v4b5n6/wechat/db"
	"github.com/z1x2c3v4b5n6/wechat/models"
	"github.com/z1x2c3v4b5n6/wechat/protocol"
)

// Session is the server-side state of one connection. It is unauthenticated
// until a successful login sets user, and closed once handleConnection
// returns; cross-session effects only ever go through the presence registry
// or the database.
type Session struct {
	c    *client
	user *models.User // nil while unauthenticated
}

func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	log.Printf("new client connected from %s", remoteAddr)

	sess := &Session{c: newClient(conn)}
	startWriter(sess.c, s.config.WriteTimeout)

	defer func() {
		s.cleanup(sess)
		conn.Close()
		if sess.user != nil {
			log.Printf("client %s disconnected from %s", sess.user.Username, remoteAddr)
		} else {
			log.Printf("client disconnected from %s", remoteAddr)
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle connection; keep waiting for the next frame.
				continue
			}
			if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				log.Printf("error reading from %s: %v", remoteAddr, err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		req, err := protocol.Decode([]byte(line))
		if err != nil {
			log.Printf("malformed frame from %s", remoteAddr)
			s.reply(sess, protocol.Error(protocol.ActionError, "malformed request"))
			continue
		}

		s.dispatch(sess, req)

		if req.Action == protocol.ActionLogout {
			return
		}
	}
}

// cleanup runs on every path into the closed state: explicit logout, peer
// EOF, or I/O failure. The connection itself is closed by the caller.
func (s *Server) cleanup(sess *Session) {
	if sess.user == nil {
		s.presence.release(sess.c)
		return
	}

	if err := s.db.LogLogin(sess.user.ID, "logout"); err != nil {
		log.Printf("failed to log logout for %s: %v", sess.user.Username, err)
	}
	s.presence.SetOffline(sess.user.ID, sess.c)
	s.notifyStatus(sess.user.ID, false)
}

// dispatch routes one decoded request. The action set is closed: every case
// is listed here, and anything else is answered as an unknown action.
func (s *Server) dispatch(sess *Session, req *protocol.Request) {
	start := time.Now()
	label := string(req.Action)

	switch req.Action {
	// Valid before authentication.
	case protocol.ActionRegister:
		s.handleRegister(sess, req)
	case protocol.ActionLogin:
		s.handleLogin(sess, req)
	case protocol.ActionLogout:
		// Cleanup runs when the read loop returns.
	default:
		if sess.user == nil {
			s.reply(sess, protocol.Error(protocol.ActionAuth, "must log in first"))
			label = "unauthenticated"
			break
		}
		if !s.dispatchAuthenticated(sess, req) {
			label = "unknown"
		}
	}

	RequestsTotal.WithLabelValues(label).Inc()
	RequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (s *Server) dispatchAuthenticated(sess *Session, req *protocol.Request) bool {
	switch req.Action {
	case protocol.ActionListFriends:
		s.handleListFriends(sess)
	case protocol.ActionAddFriend:
		s.handleAddFriend(sess, req)
	case protocol.ActionRemoveFriend:
		s.handleRemoveFriend(sess, req)
	case protocol.ActionUpdateProfile:
		s.handleUpdateProfile(sess, req)
	case protocol.ActionCreateGroup:
		s.handleCreateGroup(sess, req)
	case protocol.ActionJoinGroup:
		s.handleJoinGroup(sess, req)
	case protocol.ActionLeaveGroup:
		s.handleLeaveGroup(sess, req)
	case protocol.ActionListGroups:
		s.handleListGroups(sess)
	case protocol.ActionSendMessage:
		s.handleSendMessage(sess, req)
	case protocol.ActionBroadcast:
		s.handleBroadcast(sess, req)
	default:
		s.reply(sess, protocol.Error(protocol.ActionError, "unknown action"))
		return false
	}
	return true
}

func (s *Server) handleRegister(sess *Session, req *protocol.Request) {
	if req.Username == "" || req.Password == "" {
		s.reply(sess, protocol.Error(protocol.ActionRegister, "username and password required"))
		return
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = req.Username
	}

	if _, err := s.db.RegisterUser(req.Username, req.Password, nickname); err != nil {
		if err == db.ErrUsernameTaken {
			s.reply(sess, protocol.Error(protocol.ActionRegister, "username exists"))
		} else {
			log.Printf("register error: %v", err)
			s.reply(sess, protocol.Error(protocol.ActionRegister, "register failed"))
		}
		return
	}

	resp := protocol.OK(protocol.ActionRegister)
	resp.Message = "registered"
	s.reply(sess, resp)
}

func (s *Server) handleLogin(sess *Session, req *protocol.Request) {
	user, err := s.db.Authenticate(req.Username, req.Password)
	if err != nil {
		log.Printf("login error: %v", err)
		s.reply(sess, protocol.Error(protocol.ActionLogin, "login failed"))
		return
	}
	if user == nil {
		s.reply(sess, protocol.Error(protocol.ActionLogin, "invalid credentials"))
		return
	}

	sess.user = user
	s.presence.SetOnline(user.ID, sess.c)

	if err := s.db.LogLogin(user.ID, "login"); err != nil {
		log.Printf("failed to log login for %s: %v", user.Username, err)
	}

	// Offline flush: everything undelivered goes out with the login response
	// and is marked delivered so it never replays.
	offline, err := s.db.FetchUndelivered(user.ID)
	if err != nil {
		log.Printf("offline fetch error for %s: %v", user.Username, err)
	}
	for _, msg := range offline {
		if err := s.db.MarkDelivered(msg.ID); err != nil {
			log.Printf("mark delivered error for message %d: %v", msg.ID, err)
		}
	}

	friends, err := s.db.ListFriends(user.ID)
	if err != nil {
		log.Printf("list friends error for %s: %v", user.Username, err)
	}
	groups, err := s.db.ListGroups(user.ID)
	if err != nil {
		log.Printf("list groups error for %s: %v", user.Username, err)
	}

	resp := protocol.OK(protocol.ActionLogin)
	resp.Message = "login ok"
	resp.User = user
	resp.Friends = friends
	resp.Groups = groups
	resp.OfflineMessages = offline
	s.reply(sess, resp)

	s.notifyStatus(user.ID, true)
}

// notifyStatus fans a presence change out to every other online user.
func (s *Server) notifyStatus(userID int64, online bool) {
	resp := protocol.OK(protocol.ActionStatus)
	resp.Data = protocol.StatusData{UserID: userID, Online: online}
	frame, err := protocol.Encode(resp)
	if err != nil {
		return
	}
	s.presence.Broadcast(userID, frame)
}

// reply queues a response on the session's own outbound channel, so replies
// and pushed frames share one writer and frames never interleave.
func (s *Server) reply(sess *Session, resp protocol.Response) {
	frame, err := protocol.Encode(resp)
	if err != nil {
		log.Printf("encode error for %s: %v", resp.Action, err)
		return
	}
	if !s.presence.send(sess.c, frame) {
		log.Printf("dropped %s reply: slow or closed connection", resp.Action)
	}
}
