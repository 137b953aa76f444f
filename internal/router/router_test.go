package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/a-essam23/setlist-sync/internal/auth"
	"github.com/a-essam23/setlist-sync/internal/directory"
	"github.com/a-essam23/setlist-sync/internal/router"
	"github.com/a-essam23/setlist-sync/pkg/logging"
	"github.com/a-essam23/setlist-sync/pkg/state"
	"github.com/a-essam23/setlist-sync/pkg/state/statemanager"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// --- Test Suite Setup ---

// recordingConn stands in for a websocket connection and records every frame.
type recordingConn struct {
	id      uuid.UUID
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	reason  error
	onClose func(uuid.UUID, error)
}

func (c *recordingConn) ID() uuid.UUID { return c.id }

func (c *recordingConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, msg)
	return true
}

func (c *recordingConn) Close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reason = err
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose(c.id, err)
	}
}

type frame struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ackId"`
	Payload json.RawMessage `json:"payload"`
}

func (c *recordingConn) events(t *testing.T) []frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		out = append(out, f)
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type harness struct {
	t      *testing.T
	dir    *directory.Memory
	state  *statemanager.InMemoryManager
	songs  *statemanager.ActiveSongs
	router *router.EventRouter
}

func newHarness(t *testing.T, lenient bool) *harness {
	t.Helper()
	logger := logging.Discard()

	dir := directory.NewMemory()
	dir.PutUser(state.User{ID: "alice", Role: state.RoleAdmin, GroupID: "g1"})
	dir.PutUser(state.User{ID: "bob", Role: state.RoleMember, GroupID: "g1"})
	dir.PutUser(state.User{ID: "dan", Role: state.RoleMember, GroupID: "g1"})
	dir.PutUser(state.User{ID: "carol", Role: state.RoleMember, GroupID: "g2"})
	dir.PutUser(state.User{ID: "erin", Role: state.RoleAdmin, GroupID: "g2"})
	dir.PutUser(state.User{ID: "loner", Role: state.RoleMember})
	dir.PutGroup(state.Group{ID: "g1", AdminID: "alice"})
	dir.PutGroup(state.Group{ID: "g2", AdminID: "erin"})
	dir.PutSong("S1")
	dir.PutSong("S2")

	sm := statemanager.NewInMemoryManager(logger)
	songs := statemanager.NewActiveSongs()
	authn := auth.NewAuthenticator(logger, dir, lenient)
	r := router.NewEventRouter(logger, sm, songs, dir, authn, router.Options{})

	return &harness{t: t, dir: dir, state: sm, songs: songs, router: r}
}

// connect registers a connection whose handshake carried handshakeUserID
// (may be empty) and runs the connect transition.
func (h *harness) connect(handshakeUserID string) *recordingConn {
	h.t.Helper()
	conn := &recordingConn{id: uuid.New(), onClose: h.router.HandleClose}
	if _, err := h.state.RegisterConnection(conn, "127.0.0.1", handshakeUserID); err != nil {
		h.t.Fatalf("RegisterConnection failed: %v", err)
	}
	h.router.Handle(context.Background(), conn.id, router.Connect{})
	return conn
}

// member connects with a handshake identity for userID, which authenticates
// it during connect, then clears recorded frames.
func (h *harness) member(userID string) *recordingConn {
	h.t.Helper()
	conn := h.connect(userID)
	if conn.isClosed() {
		h.t.Fatalf("connection for %s closed during authentication", userID)
	}
	conn.reset()
	return conn
}

func (h *harness) send(conn *recordingConn, raw string) {
	h.router.HandleMessage(context.Background(), conn.id, []byte(raw))
}

func eventNames(frames []frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func expectSongSelected(t *testing.T, conn *recordingConn, songID string) {
	t.Helper()
	frames := conn.events(t)
	if len(frames) != 1 || frames[0].Event != router.EventSongSelected {
		t.Fatalf("expected one song_selected, got %v", eventNames(frames))
	}
	var p router.SongSelectedPayload
	if err := json.Unmarshal(frames[0].Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.SongID != songID {
		t.Errorf("expected songId %s, got %s", songID, p.SongID)
	}
}

func expectSilence(t *testing.T, conns ...*recordingConn) {
	t.Helper()
	for _, c := range conns {
		if frames := c.events(t); len(frames) != 0 {
			t.Errorf("expected no frames, got %v", eventNames(frames))
		}
	}
}

func (h *harness) activeSong(conn *recordingConn, ackID string) *string {
	h.t.Helper()
	conn.reset()
	h.send(conn, `{"event":"get_active_song","ackId":"`+ackID+`"}`)
	frames := conn.events(h.t)
	if len(frames) != 1 || frames[0].Event != router.EventAck {
		h.t.Fatalf("expected one ack, got %v", eventNames(frames))
	}
	if frames[0].AckID != ackID {
		h.t.Errorf("expected ackId %s, got %s", ackID, frames[0].AckID)
	}
	conn.reset()
	var songID *string
	if err := json.Unmarshal(frames[0].Payload, &songID); err != nil {
		h.t.Fatalf("bad ack payload %s: %v", frames[0].Payload, err)
	}
	return songID
}

// --- Lifecycle ---

func TestConnectEmitsConnectionStatus(t *testing.T) {
	h := newHarness(t, true)
	conn := h.connect("")

	frames := conn.events(t)
	if len(frames) != 1 || frames[0].Event != router.EventConnectionStatus {
		t.Fatalf("expected connection_status, got %v", eventNames(frames))
	}
	if string(frames[0].Payload) != "true" {
		t.Errorf("expected payload true, got %s", frames[0].Payload)
	}
	if c, _ := h.state.GetConnection(conn.id); c.Authenticated() {
		t.Error("connection must not be authenticated by connect alone")
	}
}

func TestHandshakeAuthenticationSendsAuthSuccess(t *testing.T) {
	h := newHarness(t, false)
	h.songs.Set("g1", "S2")

	conn := h.connect("bob")
	frames := conn.events(t)
	if got := eventNames(frames); len(got) != 2 || got[0] != router.EventConnectionStatus || got[1] != router.EventAuthSuccess {
		t.Fatalf("unexpected events %v", got)
	}
	var p router.AuthSuccessPayload
	if err := json.Unmarshal(frames[1].Payload, &p); err != nil {
		t.Fatal(err)
	}
	if !p.Connected || p.Message == "" || p.ActiveSongID == nil || *p.ActiveSongID != "S2" {
		t.Errorf("unexpected auth_success payload %+v", p)
	}
	if g, ok := h.state.CurrentRoom(conn.id); !ok || g != "g1" {
		t.Errorf("expected connection in g1, got %q", g)
	}
}

func TestAuthSuccessOmitsActiveSongWhenNothingPlays(t *testing.T) {
	h := newHarness(t, true)
	conn := h.connect("")
	conn.reset()
	h.send(conn, `{"event":"authenticate","payload":{"userId":"bob"}}`)

	frames := conn.events(t)
	if len(frames) != 1 || frames[0].Event != router.EventAuthSuccess {
		t.Fatalf("expected auth_success, got %v", eventNames(frames))
	}
	var raw map[string]any
	if err := json.Unmarshal(frames[0].Payload, &raw); err != nil {
		t.Fatal(err)
	}
	if _, present := raw["activeSongId"]; present {
		t.Errorf("activeSongId should be omitted, got %v", raw)
	}
}

func TestAuthenticationFailuresCloseTheConnection(t *testing.T) {
	cases := []struct {
		name    string
		lenient bool
		shake   string
		frame   string
	}{
		{"unknown user", true, "", `{"event":"authenticate","payload":{"userId":"ghost"}}`},
		{"empty user id", true, "", `{"event":"authenticate","payload":{}}`},
		{"strict without session", false, "", `{"event":"authenticate","payload":{"userId":"bob"}}`},
		{"strict mismatch", false, "bob", `{"event":"authenticate","payload":{"userId":"alice"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.lenient)
			conn := h.connect(tc.shake)
			// a valid handshake identity authenticates during connect
			conn.reset()
			h.send(conn, tc.frame)

			if !conn.isClosed() {
				t.Fatal("expected connection to be closed")
			}
			if websocket.CloseStatus(conn.reason) != websocket.StatusPolicyViolation {
				t.Errorf("expected policy violation close, got %v", conn.reason)
			}
			if _, ok := h.state.GetConnection(conn.id); ok {
				t.Error("closed connection still registered")
			}
			for _, f := range conn.events(t) {
				if f.Event == router.EventAuthSuccess {
					t.Error("auth_success must not be sent on failure")
				}
			}
		})
	}
}

func TestHandshakeWithUnknownUserClosesConnection(t *testing.T) {
	h := newHarness(t, false)
	conn := h.connect("ghost")
	if !conn.isClosed() {
		t.Fatal("expected handshake authentication failure to close the connection")
	}
}

func TestUserWithoutGroupAuthenticatesWithoutRoom(t *testing.T) {
	h := newHarness(t, true)
	conn := h.member("loner")

	if _, ok := h.state.CurrentRoom(conn.id); ok {
		t.Error("user without group must not join a room")
	}
	if song := h.activeSong(conn, "a1"); song != nil {
		t.Errorf("expected null active song, got %q", *song)
	}
}

// --- Scenarios ---

func TestSelectSongBroadcastsToGroupOnly(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob1 := h.member("bob")
	bob2 := h.member("bob")
	carol := h.member("carol")

	h.send(admin, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)

	expectSongSelected(t, bob1, "S1")
	expectSongSelected(t, bob2, "S1")
	expectSongSelected(t, admin, "S1")
	expectSilence(t, carol)

	if got, _ := h.songs.Get("g1"); got != "S1" {
		t.Errorf("expected store g1=S1, got %q", got)
	}
	if _, ok := h.songs.Get("g2"); ok {
		t.Error("other group's entry must not change")
	}
}

func TestSelectSongOverwritesPreviousSong(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob := h.member("bob")

	h.send(admin, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)
	bob.reset()
	h.send(admin, `{"event":"select_song","payload":{"userId":"alice","songId":"S2"}}`)

	expectSongSelected(t, bob, "S2")
	if snap := h.songs.Snapshot(); len(snap) != 1 || snap["g1"] != "S2" {
		t.Errorf("expected single entry g1=S2, got %v", snap)
	}
}

func TestQuitSongClearsStoreAndBroadcasts(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob1 := h.member("bob")
	bob2 := h.member("bob")
	carol := h.member("carol")

	h.send(admin, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)
	for _, c := range []*recordingConn{admin, bob1, bob2, carol} {
		c.reset()
	}

	h.send(admin, `{"event":"quit_song","payload":{"userId":"alice"}}`)

	for _, c := range []*recordingConn{bob1, bob2} {
		frames := c.events(t)
		if len(frames) != 1 || frames[0].Event != router.EventSongQuit {
			t.Errorf("expected song_quit, got %v", eventNames(frames))
		}
	}
	expectSilence(t, carol)

	if _, ok := h.songs.Get("g1"); ok {
		t.Error("quit must remove the group's entry")
	}
	if song := h.activeSong(bob1, "q1"); song != nil {
		t.Errorf("expected null after quit, got %q", *song)
	}
}

func TestNonAdminSelectIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.songs.Set("g1", "S2")
	dan := h.member("dan")
	bob := h.member("bob")
	carol := h.member("carol")

	h.send(dan, `{"event":"select_song","payload":{"userId":"dan","songId":"S1"}}`)
	h.send(dan, `{"event":"quit_song","payload":{"userId":"dan"}}`)

	expectSilence(t, dan, bob, carol)
	if got, _ := h.songs.Get("g1"); got != "S2" {
		t.Errorf("store changed by non-admin: %q", got)
	}
}

func TestSelectTargetsTheActorsOwnGroup(t *testing.T) {
	h := newHarness(t, true)
	erin := h.member("erin")
	bob := h.member("bob")

	// erin administers g2; a select always targets the actor's own group
	h.send(erin, `{"event":"select_song","payload":{"userId":"erin","songId":"S1"}}`)

	expectSilence(t, bob)
	if _, ok := h.songs.Get("g1"); ok {
		t.Error("g1 must not change")
	}
	if got, _ := h.songs.Get("g2"); got != "S1" {
		t.Errorf("expected g2=S1, got %q", got)
	}
}

func TestSelectUnknownSongIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob := h.member("bob")

	h.send(admin, `{"event":"select_song","payload":{"userId":"alice","songId":"nope"}}`)
	h.send(admin, `{"event":"select_song","payload":{"userId":"alice"}}`)

	expectSilence(t, admin, bob)
	if len(h.songs.Snapshot()) != 0 {
		t.Errorf("store changed: %v", h.songs.Snapshot())
	}
}

func TestDemotedAdminLosesMutationRights(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob := h.member("bob")

	h.dir.PutGroup(state.Group{ID: "g1", AdminID: "bob"})
	h.send(admin, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)

	expectSilence(t, admin, bob)
	if len(h.songs.Snapshot()) != 0 {
		t.Error("demoted admin changed the store")
	}

	// the newly promoted admin may act immediately
	h.send(bob, `{"event":"select_song","payload":{"userId":"bob","songId":"S1"}}`)
	expectSongSelected(t, admin, "S1")
}

func TestMutationOnBehalfOfAnotherUserIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob := h.member("bob")

	h.send(bob, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)

	expectSilence(t, admin, bob)
	if len(h.songs.Snapshot()) != 0 {
		t.Error("impersonated select changed the store")
	}
}

func TestAuthenticatedActorMayOmitUserID(t *testing.T) {
	h := newHarness(t, false)
	admin := h.member("alice")
	bob := h.member("bob")

	h.send(admin, `{"event":"select_song","payload":{"songId":"S1"}}`)
	expectSongSelected(t, bob, "S1")
}

func TestUnauthenticatedMutation(t *testing.T) {
	t.Run("lenient trusts payload id", func(t *testing.T) {
		h := newHarness(t, true)
		anon := h.connect("")
		bob := h.member("bob")

		h.send(anon, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)
		expectSongSelected(t, bob, "S1")
	})
	t.Run("strict drops it", func(t *testing.T) {
		h := newHarness(t, false)
		anon := h.connect("")
		bob := h.member("bob")

		h.send(anon, `{"event":"select_song","payload":{"userId":"alice","songId":"S1"}}`)
		expectSilence(t, bob)
		if anon.isClosed() {
			t.Error("authorization failures must not close the connection")
		}
	})
}

func TestGetActiveSong(t *testing.T) {
	h := newHarness(t, true)
	anon := h.connect("")
	anon.reset()
	bob := h.member("bob")

	if song := h.activeSong(anon, "x"); song != nil {
		t.Errorf("unauthenticated connection should get null, got %q", *song)
	}
	if song := h.activeSong(bob, "y"); song != nil {
		t.Errorf("expected null, got %q", *song)
	}
	h.songs.Set("g1", "S1")
	if song := h.activeSong(bob, "z"); song == nil || *song != "S1" {
		t.Errorf("expected S1, got %v", song)
	}
}

// --- Room membership ---

func TestReauthenticationKeepsExactlyOneRoom(t *testing.T) {
	h := newHarness(t, true)
	conn := h.member("bob")

	h.send(conn, `{"event":"authenticate","payload":{"userId":"bob"}}`)
	h.send(conn, `{"event":"authenticate","payload":{"userId":"bob"}}`)

	if size := h.state.RoomSizes()["g1"]; size != 1 {
		t.Errorf("expected one membership in g1, got %d", size)
	}
	if count := h.state.GetUserConnectionCount("bob"); count != 1 {
		t.Errorf("expected one registered connection, got %d", count)
	}

	// the directory moves bob to g2; re-authenticating moves the connection
	h.dir.PutUser(state.User{ID: "bob", Role: state.RoleMember, GroupID: "g2"})
	h.send(conn, `{"event":"authenticate","payload":{"userId":"bob"}}`)

	sizes := h.state.RoomSizes()
	if _, ok := sizes["g1"]; ok {
		t.Error("stale g1 membership retained")
	}
	if sizes["g2"] != 1 {
		t.Errorf("expected membership in g2, got %v", sizes)
	}
}

func TestDisconnectPrunesRegistriesWithoutBroadcast(t *testing.T) {
	h := newHarness(t, true)
	bob := h.member("bob")
	leaving := h.member("dan")

	leaving.Close(errors.New("client went away"))

	if _, ok := h.state.GetConnection(leaving.id); ok {
		t.Error("connection still registered")
	}
	if _, ok := h.state.CurrentRoom(leaving.id); ok {
		t.Error("reverse room index still has the connection")
	}
	for _, tr := range h.state.GetRoomConnections("g1") {
		if tr.ID() == leaving.id {
			t.Error("forward room index still has the connection")
		}
	}
	if h.state.GetUserConnectionCount("dan") != 0 {
		t.Error("connection registry still has the connection")
	}
	expectSilence(t, bob)

	// messages after disconnect are ignored
	h.send(leaving, `{"event":"get_active_song","ackId":"late"}`)
}

func TestMalformedAndUnknownFramesAreIgnored(t *testing.T) {
	h := newHarness(t, true)
	bob := h.member("bob")

	h.send(bob, `{not json`)
	h.send(bob, `{"event":"dance"}`)
	h.send(bob, `{"payload":{}}`)

	expectSilence(t, bob)
	if bob.isClosed() {
		t.Error("bad frames must not close the connection")
	}
}

func TestConcurrentSelectsKeepOneSongPerGroup(t *testing.T) {
	h := newHarness(t, true)
	admin := h.member("alice")
	bob := h.member("bob")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			song := "S1"
			if i%2 == 0 {
				song = "S2"
			}
			h.send(admin, `{"event":"select_song","payload":{"songId":"`+song+`"}}`)
		}(i)
	}
	wg.Wait()

	snap := h.songs.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one entry, got %v", snap)
	}
	frames := bob.events(t)
	if len(frames) != 50 {
		t.Fatalf("expected 50 broadcasts, got %d", len(frames))
	}
	var last router.SongSelectedPayload
	json.Unmarshal(frames[len(frames)-1].Payload, &last)
	if last.SongID != snap["g1"] {
		t.Errorf("last broadcast %s disagrees with store %s", last.SongID, snap["g1"])
	}
}
