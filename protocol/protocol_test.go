package protocol

import (
	"bytes"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	line := []byte(`{"action":"register","username":"alice","password":"pw","nickname":"Alice"}`)
	req, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if req.Action != ActionRegister || req.Username != "alice" || req.Password != "pw" || req.Nickname != "Alice" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestDecodeKeepsContentRaw(t *testing.T) {
	line := []byte(`{"action":"send_message","recipient_type":"user","recipient_id":7,"content_type":"file","content":{"name":"a.png","data":"aGVsbG8="}}`)
	req, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if req.ContentType != ContentFile {
		t.Errorf("unexpected content type: %q", req.ContentType)
	}
	// File payloads pass through untouched.
	if string(req.Content) != `{"name":"a.png","data":"aGVsbG8="}` {
		t.Errorf("content not raw: %s", req.Content)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, line := range []string{"", "   ", "not json", `{"action":}`} {
		if _, err := Decode([]byte(line)); err != ErrInvalidFrame {
			t.Errorf("Decode(%q): expected ErrInvalidFrame, got %v", line, err)
		}
	}
}

func TestEncodeSingleLine(t *testing.T) {
	resp := Error(ActionRegister, "first\nsecond")
	frame, err := Encode(resp)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if frame[len(frame)-1] != '\n' {
		t.Error("frame not newline-terminated")
	}
	// The embedded newline is escaped, never raw.
	if bytes.Count(frame, []byte("\n")) != 1 {
		t.Errorf("frame spans multiple lines: %q", frame)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(Request{Action: ActionAddFriend, FriendUsername: "bob"})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	req, err := Decode(bytes.TrimSuffix(frame, []byte("\n")))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if req.Action != ActionAddFriend || req.FriendUsername != "bob" {
		t.Errorf("unexpected request: %+v", req)
	}
}
