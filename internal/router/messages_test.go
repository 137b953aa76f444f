package router

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr bool
	}{
		{"authenticate", `{"event":"authenticate","payload":{"userId":"u1"}}`, Authenticate{UserID: "u1"}, false},
		{"authenticate without payload", `{"event":"authenticate"}`, Authenticate{}, false},
		{"select song", `{"event":"select_song","payload":{"userId":"u1","songId":"s9"}}`, SelectSong{UserID: "u1", SongID: "s9"}, false},
		{"quit song", `{"event":"quit_song","payload":{"userId":"u1"}}`, QuitSong{UserID: "u1"}, false},
		{"get active song", `{"event":"get_active_song","ackId":"42"}`, GetActiveSong{AckID: "42"}, false},
		{"non-string ids are stringified", `{"event":"select_song","payload":{"userId":7,"songId":8}}`, SelectSong{UserID: "7", SongID: "8"}, false},
		{"malformed", `{"event":`, nil, true},
		{"missing event", `{"payload":{}}`, nil, true},
		{"numeric event", `{"event":3}`, nil, true},
		{"unknown event", `{"event":"dance"}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeUnknownEventIsTyped(t *testing.T) {
	_, err := Decode([]byte(`{"event":"dance"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}
