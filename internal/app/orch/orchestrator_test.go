package orch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	limit  int
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.limit > 0 && len(c.frames) >= c.limit {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messages returns the decoded frames received so far, skipping welcome.
func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame is not json: %s", f)
		}
		if m["type"] == core.TypeWelcome {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) raw() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type harness struct {
	t      *testing.T
	o      *Orchestrator
	conns  map[domain.ConnID]*fakeConn
	cancel context.CancelFunc
}

func newHarness(t *testing.T, policy app.Policy) *harness {
	t.Helper()
	o := New(app.NewRegistry(), core.NewMembershipTable(), policy, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	h := &harness{t: t, o: o, conns: make(map[domain.ConnID]*fakeConn), cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-o.Done()
	})
	return h
}

func (h *harness) connect(id domain.ConnID) *fakeConn {
	h.t.Helper()
	c := &fakeConn{}
	h.conns[id] = c
	if err := h.o.Connect(id, c, &domain.User{ID: domain.UserID("user-" + id), DisplayName: strings.ToUpper(string(id))}); err != nil {
		h.t.Fatalf("connect: %v", err)
	}
	return c
}

func (h *harness) join(id domain.ConnID, room domain.RoomID) {
	h.t.Helper()
	if err := h.o.Join(id, room, nil); err != nil {
		h.t.Fatalf("join: %v", err)
	}
}

// sync waits until every previously submitted event has been handled.
func (h *harness) sync() {
	h.t.Helper()
	if _, err := h.o.ConnectionCount(context.Background()); err != nil {
		h.t.Fatalf("sync: %v", err)
	}
}

func (h *harness) participants(room domain.RoomID) []domain.ConnID {
	h.t.Helper()
	ps, err := h.o.Participants(context.Background(), room)
	if err != nil {
		h.t.Fatalf("participants: %v", err)
	}
	out := make([]domain.ConnID, len(ps))
	for i, p := range ps {
		out[i] = p.ConnID
	}
	return out
}

func userIDs(t *testing.T, m map[string]any) []string {
	t.Helper()
	users, ok := m["users"].([]any)
	if !ok {
		t.Fatalf("all-users without users list: %v", m)
	}
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.(map[string]any)["connectionId"].(string)
	}
	return out
}

func TestConnectSendsWelcome(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.sync()

	frames := x.raw()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	var m map[string]any
	_ = json.Unmarshal(frames[0], &m)
	if m["type"] != core.TypeWelcome || m["connectionId"] != "x" {
		t.Errorf("unexpected welcome %v", m)
	}
}

func TestJoinEmptyRoom(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.join("x", "R1")
	h.sync()

	msgs := x.messages(t)
	if len(msgs) != 1 || msgs[0]["type"] != core.TypeAllUsers {
		t.Fatalf("expected a single all-users message, got %v", msgs)
	}
	if ids := userIDs(t, msgs[0]); len(ids) != 0 {
		t.Errorf("expected no other participants, got %v", ids)
	}
}

func TestSecondJoinerSeesFirstAndFirstIsNotified(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.sync()
	x.reset()
	h.join("y", "R1")
	h.sync()

	ym := y.messages(t)
	if len(ym) != 1 {
		t.Fatalf("expected 1 message for y, got %v", ym)
	}
	if ids := userIDs(t, ym[0]); len(ids) != 1 || ids[0] != "x" {
		t.Errorf("expected y to see [x], got %v", ids)
	}

	xm := x.messages(t)
	if len(xm) != 1 || xm[0]["type"] != core.TypeUserJoined {
		t.Fatalf("expected user-joined for x, got %v", xm)
	}
	if xm[0]["connectionId"] != "y" || xm[0]["displayName"] != "Y" {
		t.Errorf("user-joined should name y, got %v", xm[0])
	}
}

func TestRepeatedJoinIsDeduplicated(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	x.reset()

	h.join("y", "R1")
	h.sync()

	if got := h.participants("R1"); len(got) != 2 {
		t.Errorf("expected 2 participants, got %v", got)
	}
	if msgs := x.messages(t); len(msgs) != 0 {
		t.Errorf("repeated join should not re-announce, got %v", msgs)
	}
}

func TestRoomSignalForwardedVerbatim(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	x.reset()
	y.reset()

	payload := json.RawMessage(`{ "sdp" : "abc",  "type":"offer" }`)
	if err := h.o.Relay("x", Signal{Kind: core.SignalOffer, Room: "R1", Payload: payload}); err != nil {
		t.Fatalf("relay: %v", err)
	}
	h.sync()

	frames := y.raw()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame at y, got %d", len(frames))
	}
	var got struct {
		Type    string          `json:"type"`
		From    string          `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frames[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "offer" || got.From != "x" {
		t.Errorf("unexpected envelope %+v", got)
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("payload changed: got %s want %s", got.Payload, payload)
	}
	if len(x.raw()) != 0 {
		t.Error("sender must not receive its own signal")
	}
}

func TestDirectSignalReachesOnlyTarget(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	y := h.connect("y")
	z := h.connect("z")
	for _, id := range []domain.ConnID{"x", "y", "z"} {
		h.join(id, "R1")
	}
	h.sync()
	x.reset()
	y.reset()
	z.reset()

	_ = h.o.Relay("x", Signal{Kind: core.SignalAnswer, To: "z", Payload: json.RawMessage(`{"sdp":"ans"}`)})
	h.sync()

	if len(y.raw()) != 0 {
		t.Error("y should not receive a direct signal for z")
	}
	zm := z.messages(t)
	if len(zm) != 1 || zm[0]["type"] != "answer" || zm[0]["from"] != "x" {
		t.Fatalf("unexpected messages at z: %v", zm)
	}
}

func TestSignalAddressingMisses(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	y := h.connect("y")
	o := h.connect("other")
	h.join("x", "R1")
	h.join("y", "R1")
	h.join("other", "R2")
	h.sync()
	x.reset()
	y.reset()
	o.reset()

	// target gone
	_ = h.o.Relay("x", Signal{Kind: core.SignalICECandidate, To: "ghost", Payload: json.RawMessage(`{}`)})
	// target in another room
	_ = h.o.Relay("x", Signal{Kind: core.SignalICECandidate, To: "other", Payload: json.RawMessage(`{}`)})
	// room the sender is not in
	_ = h.o.Relay("x", Signal{Kind: core.SignalOffer, Room: "R2", Payload: json.RawMessage(`{}`)})
	// sender in no room
	h.connect("lonely")
	_ = h.o.Relay("lonely", Signal{Kind: core.SignalOffer, Room: "R1", Payload: json.RawMessage(`{}`)})
	h.sync()

	for name, c := range map[string]*fakeConn{"x": x, "y": y, "other": o} {
		if msgs := c.messages(t); len(msgs) != 0 {
			t.Errorf("%s should receive nothing, got %v", name, msgs)
		}
	}
}

func TestSignalOrderPreservedPerRecipient(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	y.reset()

	for i := 0; i < 50; i++ {
		payload := json.RawMessage(`{"seq":` + strings.Repeat("1", i+1) + `}`)
		_ = h.o.Relay("x", Signal{Kind: core.SignalICECandidate, To: "y", Payload: payload})
	}
	h.sync()

	frames := y.raw()
	if len(frames) != 50 {
		t.Fatalf("expected 50 frames, got %d", len(frames))
	}
	for i, f := range frames {
		want := `"payload":{"seq":` + strings.Repeat("1", i+1) + `}}`
		if !strings.HasSuffix(string(f), want) {
			t.Fatalf("frame %d out of order: %s", i, f)
		}
	}
}

func TestScreenShareNotice(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	x.reset()
	y.reset()

	_ = h.o.ScreenShare("x", "R1", true)
	_ = h.o.ScreenShare("x", "R1", false)
	h.sync()

	ym := y.messages(t)
	if len(ym) != 2 {
		t.Fatalf("expected 2 notices, got %v", ym)
	}
	if ym[0]["type"] != core.TypeScreenShareStarted || ym[1]["type"] != core.TypeScreenShareStopped {
		t.Errorf("unexpected notice order %v", ym)
	}
	if ym[0]["from"] != "x" {
		t.Errorf("notice should carry the sender, got %v", ym[0])
	}
	if _, has := ym[0]["payload"]; has {
		t.Errorf("notice must carry no payload, got %v", ym[0])
	}
	if len(x.raw()) != 0 {
		t.Error("sender must not be notified")
	}
	if got := h.participants("R1"); len(got) != 2 {
		t.Errorf("screen share must not change membership, got %v", got)
	}
}

func TestDisconnectNotifiesAndDeletesEmptyRoom(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	x.reset()

	_ = h.o.Disconnect("y")
	_ = h.o.Disconnect("y")
	h.sync()

	xm := x.messages(t)
	if len(xm) != 1 || xm[0]["type"] != core.TypeUserDisconnected || xm[0]["connectionId"] != "y" {
		t.Fatalf("expected exactly one user-disconnected for y, got %v", xm)
	}
	if got := h.participants("R1"); len(got) != 1 || got[0] != "x" {
		t.Errorf("expected R1 = {x}, got %v", got)
	}

	_ = h.o.Disconnect("x")
	h.sync()
	rooms, _ := h.o.RoomList(context.Background())
	if len(rooms) != 0 {
		t.Errorf("expected no rooms, got %v", rooms)
	}

	w := h.connect("w")
	h.join("w", "R1")
	h.sync()
	wm := w.messages(t)
	if len(wm) != 1 || len(userIDs(t, wm[0])) != 0 {
		t.Errorf("rejoin should start from an empty room, got %v", wm)
	}
}

func TestLeaveKeepsConnection(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	x.reset()

	_ = h.o.Leave("y")
	h.sync()

	if xm := x.messages(t); len(xm) != 1 || xm[0]["type"] != core.TypeUserDisconnected {
		t.Fatalf("expected user-disconnected after leave, got %v", xm)
	}
	if n, _ := h.o.ConnectionCount(context.Background()); n != 2 {
		t.Errorf("leave must not drop the connection, count=%d", n)
	}
	if y.isClosed() {
		t.Error("leave must not close the transport")
	}
}

func TestJoinAnotherRoomMovesConnection(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	x.reset()

	h.join("y", "R2")
	h.sync()

	if xm := x.messages(t); len(xm) != 1 || xm[0]["type"] != core.TypeUserDisconnected {
		t.Fatalf("expected x to see y leave, got %v", xm)
	}
	if got := h.participants("R1"); len(got) != 1 {
		t.Errorf("expected only x in R1, got %v", got)
	}
	if got := h.participants("R2"); len(got) != 1 || got[0] != "y" {
		t.Errorf("expected y in R2, got %v", got)
	}
}

func TestWhoAmIAndPing(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.join("x", "R1")
	h.sync()
	x.reset()

	_ = h.o.WhoAmI("x")
	_ = h.o.Ping("x")
	h.sync()

	msgs := x.messages(t)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 replies, got %v", msgs)
	}
	if msgs[0]["type"] != core.TypeWhoAmI || msgs[0]["roomId"] != "R1" || msgs[0]["userId"] != "user-x" {
		t.Errorf("unexpected whoami %v", msgs[0])
	}
	if msgs[1]["type"] != core.TypePong {
		t.Errorf("expected pong, got %v", msgs[1])
	}
}

func TestBackpressureKickClosesSlowConsumer(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	y.mu.Lock()
	y.limit = len(y.frames)
	y.mu.Unlock()

	_ = h.o.Relay("x", Signal{Kind: core.SignalOffer, Room: "R1", Payload: json.RawMessage(`{}`)})
	h.sync()

	if !y.isClosed() {
		t.Error("kick policy should close the slow connection")
	}
}

func TestBackpressureDropKeepsConnection(t *testing.T) {
	h := newHarness(t, app.DropPolicy{})
	h.connect("x")
	y := h.connect("y")
	h.join("x", "R1")
	h.join("y", "R1")
	h.sync()
	y.mu.Lock()
	y.limit = len(y.frames)
	y.mu.Unlock()

	_ = h.o.Relay("x", Signal{Kind: core.SignalOffer, Room: "R1", Payload: json.RawMessage(`{}`)})
	h.sync()

	if y.isClosed() {
		t.Error("drop policy should keep the connection open")
	}
}

func TestShutdownClosesConnectionsAndRejectsEvents(t *testing.T) {
	o := New(app.NewRegistry(), core.NewMembershipTable(), app.KickPolicy{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)

	c := &fakeConn{}
	_ = o.Connect("x", c, nil)
	if _, err := o.ConnectionCount(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	cancel()
	<-o.Done()

	if !c.isClosed() {
		t.Error("shutdown should close open connections")
	}
	if err := o.Disconnect("x"); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if _, err := o.RoomList(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped from query, got %v", err)
	}
}

func TestEventsAcceptedBeforeShutdownStillRun(t *testing.T) {
	o := New(app.NewRegistry(), core.NewMembershipTable(), app.KickPolicy{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// queued before the loop runs, then the loop starts already cancelled
	c := &fakeConn{}
	if err := o.Connect("x", c, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	o.Run(ctx)

	if !c.isClosed() {
		t.Error("connection accepted before shutdown should be closed by it")
	}
	if err := o.Connect("y", &fakeConn{}, nil); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after shutdown, got %v", err)
	}
}

func TestDeliverSkipsEmptyFrame(t *testing.T) {
	h := newHarness(t, app.KickPolicy{})
	x := h.connect("x")
	h.sync()
	x.reset()

	done := make(chan bool, 1)
	if err := h.o.submit(func() { done <- h.o.deliver("x", nil) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if <-done {
		t.Error("empty frame reported as delivered")
	}
	if got := x.raw(); len(got) != 0 {
		t.Errorf("expected no frames, got %q", got)
	}
}

func TestEncodeRelayedKeepsPayloadBytes(t *testing.T) {
	payload := json.RawMessage("{\n  \"candidate\": \"a=1\"\n}")
	f := encodeRelayed("ice-candidate", "x", "R1", payload)

	want := `{"type":"ice-candidate","from":"x","roomId":"R1","payload":` + string(payload) + `}`
	if string(f) != want {
		t.Errorf("got %s\nwant %s", f, want)
	}
	if !json.Valid(f) {
		t.Error("relayed frame is not valid json")
	}
}
