package router

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Inbound is the closed set of things that can happen to a connection.
// Handle switches over it exhaustively.
type Inbound interface {
	inbound()
}

type Connect struct{}

type Disconnect struct {
	Err error
}

type Authenticate struct {
	UserID string
}

type SelectSong struct {
	UserID string
	SongID string
}

type QuitSong struct {
	UserID string
}

type GetActiveSong struct {
	AckID string
}

func (Connect) inbound()       {}
func (Disconnect) inbound()    {}
func (Authenticate) inbound()  {}
func (SelectSong) inbound()    {}
func (QuitSong) inbound()      {}
func (GetActiveSong) inbound() {}

var ErrUnknownEvent = errors.New("unknown event")

// Decode turns a raw client frame into an Inbound message.
func Decode(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("malformed json")
	}
	frame := gjson.ParseBytes(raw)
	event := frame.Get("event")
	if !event.Exists() || event.Type != gjson.String {
		return nil, errors.New("frame missing 'event' field")
	}
	payload := frame.Get("payload")

	switch event.String() {
	case EventAuthenticate:
		return Authenticate{UserID: payload.Get("userId").String()}, nil
	case EventSelectSong:
		return SelectSong{
			UserID: payload.Get("userId").String(),
			SongID: payload.Get("songId").String(),
		}, nil
	case EventQuitSong:
		return QuitSong{UserID: payload.Get("userId").String()}, nil
	case EventGetActiveSong:
		return GetActiveSong{AckID: frame.Get("ackId").String()}, nil
	default:
		return nil, fmt.Errorf("%w '%s'", ErrUnknownEvent, event.String())
	}
}
