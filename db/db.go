package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/z1x2c3v4b5n6/wechat/models"
)

var (
	ErrNoRows         = errors.New("no rows found")
	ErrUsernameTaken  = errors.New("username exists")
	ErrAlreadyFriends = errors.New("already friends")
	ErrSelfFriend     = errors.New("cannot friend self")
	ErrNotFound       = errors.New("not found")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			nickname TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user'
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			user_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			UNIQUE(user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			owner_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			UNIQUE(group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			recipient_type TEXT NOT NULL,
			recipient_id INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS login_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_type, recipient_id, delivered)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_user ON friends(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// User methods

func (db *DB) RegisterUser(username, password, nickname string) (int64, error) {
	exists, err := db.userExists(username)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrUsernameTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	result, err := db.conn.Exec(
		"INSERT INTO users (username, password, nickname) VALUES (?, ?, ?)",
		username, string(hashed), nickname,
	)
	if err != nil {
		// Concurrent registration of the same username loses the race here.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrUsernameTaken
		}
		return 0, err
	}
	return result.LastInsertId()
}

func (db *DB) userExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Authenticate returns the account for valid credentials, or nil when the
// username does not exist or the password does not match.
func (db *DB) Authenticate(username, password string) (*models.User, error) {
	user, err := db.userByUsername(username)
	if err == ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil
	}
	return user, nil
}

func (db *DB) userByUsername(username string) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRow(
		"SELECT id, username, password, nickname, avatar, signature, role FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.Password, &u.Nickname, &u.Avatar, &u.Signature, &u.Role)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) UpdateProfile(userID int64, profile *models.Profile) error {
	var sets []string
	var args []interface{}

	if profile.Nickname != nil {
		sets = append(sets, "nickname = ?")
		args = append(args, *profile.Nickname)
	}
	if profile.Avatar != nil {
		sets = append(sets, "avatar = ?")
		args = append(args, *profile.Avatar)
	}
	if profile.Signature != nil {
		sets = append(sets, "signature = ?")
		args = append(args, *profile.Signature)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID)
	_, err := db.conn.Exec("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// Friend methods

// AddFriend inserts the symmetric (user, friend) pair and returns the
// resolved friend account.
func (db *DB) AddFriend(userID int64, friendUsername string) (*models.User, error) {
	friend, err := db.userByUsername(friendUsername)
	if err == ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if friend.ID == userID {
		return nil, ErrSelfFriend
	}

	var count int
	err = db.conn.QueryRow(
		"SELECT COUNT(*) FROM friends WHERE user_id = ? AND friend_id = ?",
		userID, friend.ID,
	).Scan(&count)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrAlreadyFriends
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO friends (user_id, friend_id) VALUES (?, ?)", userID, friend.ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec("INSERT INTO friends (user_id, friend_id) VALUES (?, ?)", friend.ID, userID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return friend, nil
}

func (db *DB) RemoveFriend(userID, friendID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM friends WHERE user_id = ? AND friend_id = ?", userID, friendID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM friends WHERE user_id = ? AND friend_id = ?", friendID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) ListFriends(userID int64) ([]models.User, error) {
	rows, err := db.conn.Query(`
		SELECT u.id, u.username, u.nickname, u.avatar, u.signature, u.role
		FROM users u
		JOIN friends f ON f.friend_id = u.id
		WHERE f.user_id = ?
		ORDER BY u.nickname`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Nickname, &u.Avatar, &u.Signature, &u.Role); err != nil {
			return nil, err
		}
		friends = append(friends, u)
	}

	return friends, rows.Err()
}

// Group methods

// CreateGroup creates the group and enrolls the owner as its first member.
func (db *DB) CreateGroup(ownerID int64, name string) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec("INSERT INTO groups (name, owner_id) VALUES (?, ?)", name, ownerID)
	if err != nil {
		return 0, err
	}
	groupID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
		groupID, ownerID,
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return groupID, nil
}

// JoinGroup is idempotent: joining a group twice is a no-op success. Only a
// missing group is an error.
func (db *DB) JoinGroup(userID, groupID int64) error {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM groups WHERE id = ?", groupID).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}

	_, err = db.conn.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
		groupID, userID,
	)
	return err
}

func (db *DB) LeaveGroup(userID, groupID int64) error {
	_, err := db.conn.Exec(
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	)
	return err
}

func (db *DB) ListGroups(userID int64) ([]models.Group, error) {
	rows, err := db.conn.Query(`
		SELECT g.id, g.name, g.owner_id
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.name`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

func (db *DB) GroupMembers(groupID int64) ([]int64, error) {
	rows, err := db.conn.Query("SELECT user_id FROM group_members WHERE group_id = ?", groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}

	return members, rows.Err()
}

// Message methods

func (db *DB) SaveMessage(senderID int64, recipientType string, recipientID int64, contentType string, content []byte, createdAt time.Time, delivered bool) (int64, error) {
	result, err := db.conn.Exec(`
		INSERT INTO messages (sender_id, recipient_type, recipient_id, content_type, content, created_at, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		senderID, recipientType, recipientID, contentType, string(content),
		createdAt.Format(time.RFC3339), delivered,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// FetchUndelivered returns every undelivered message addressed to the user
// directly or to any group the user belongs to, oldest first. Group rows are
// per-member copies with no member column, so members who were offline at
// the same time each see every undelivered copy of the same send.
func (db *DB) FetchUndelivered(userID int64) ([]models.Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, sender_id, recipient_type, recipient_id, content_type, content, created_at, delivered
		FROM messages
		WHERE delivered = 0 AND (
			(recipient_type = 'user' AND recipient_id = ?) OR
			(recipient_type = 'group' AND recipient_id IN (
				SELECT group_id FROM group_members WHERE user_id = ?
			))
		)
		ORDER BY created_at`,
		userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var content, createdAt string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientType, &m.RecipientID, &m.ContentType, &content, &createdAt, &m.Delivered); err != nil {
			return nil, err
		}
		m.Content = []byte(content)
		m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *DB) MarkDelivered(messageID int64) error {
	_, err := db.conn.Exec("UPDATE messages SET delivered = 1 WHERE id = ?", messageID)
	return err
}

func (db *DB) LogLogin(userID int64, action string) error {
	_, err := db.conn.Exec(
		"INSERT INTO login_logs (user_id, action, timestamp) VALUES (?, ?, ?)",
		userID, action, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// BootstrapDefaultAdmin seeds an admin/admin account when the users table is
// empty, so a fresh deployment has someone able to broadcast.
func (db *DB) BootstrapDefaultAdmin() error {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	id, err := db.RegisterUser("admin", "admin", "administrator")
	if err != nil {
		return err
	}
	_, err = db.conn.Exec("UPDATE users SET role = ? WHERE id = ?", models.RoleAdmin, id)
	return err
}
