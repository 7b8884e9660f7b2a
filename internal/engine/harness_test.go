package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/auth"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/ratelimit"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/timer"
)

// In-memory repositories standing in for Mongo.

type fakeSessionRepo struct {
	mu sync.Mutex
	m  map[string]model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{m: make(map[string]model.Session)}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = *s
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}

func (r *fakeSessionRepo) Update(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = *s
	return nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	return nil
}

type fakePlayerRepo struct {
	mu sync.Mutex
	m  map[string]model.Player
}

func newFakePlayerRepo() *fakePlayerRepo {
	return &fakePlayerRepo{m: make(map[string]model.Player)}
}

func (r *fakePlayerRepo) Create(_ context.Context, p *model.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.ID] = *p
	return nil
}

func (r *fakePlayerRepo) GetByID(_ context.Context, id string) (*model.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	out := p
	return &out, nil
}

func (r *fakePlayerRepo) GetBySession(_ context.Context, sessionID string) ([]*model.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Player
	for _, p := range r.m {
		if p.SessionID == sessionID {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePlayerRepo) Update(_ context.Context, p *model.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.ID] = *p
	return nil
}

func (r *fakePlayerRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	return nil
}

type fakeItemRepo struct {
	mu sync.Mutex
	m  map[string]model.Item
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{m: make(map[string]model.Item)}
}

func (r *fakeItemRepo) Create(_ context.Context, i *model.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[i.ID] = *i
	return nil
}

func (r *fakeItemRepo) GetByID(_ context.Context, id string) (*model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	out := i
	return &out, nil
}

func (r *fakeItemRepo) GetBySession(_ context.Context, sessionID string) ([]*model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Item
	for _, i := range r.m {
		if i.SessionID == sessionID {
			cp := i
			out = append(out, &cp)
		}
	}
	for a := 0; a < len(out); a++ {
		for b := a + 1; b < len(out); b++ {
			if out[b].Order < out[a].Order {
				out[a], out[b] = out[b], out[a]
			}
		}
	}
	return out, nil
}

func (r *fakeItemRepo) Update(_ context.Context, i *model.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[i.ID] = *i
	return nil
}

func (r *fakeItemRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	return nil
}

type fakeVoteRepo struct {
	mu    sync.Mutex
	votes []model.Vote
}

func newFakeVoteRepo() *fakeVoteRepo {
	return &fakeVoteRepo{}
}

func (r *fakeVoteRepo) Upsert(_ context.Context, v *model.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.votes {
		if existing.ItemID == v.ItemID && existing.PlayerID == v.PlayerID {
			// Mirrors the updatedAt ordering: a re-vote moves to the end.
			r.votes = append(r.votes[:i], r.votes[i+1:]...)
			break
		}
	}
	r.votes = append(r.votes, *v)
	return nil
}

func (r *fakeVoteRepo) GetByItem(_ context.Context, itemID string) ([]*model.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Vote
	for _, v := range r.votes {
		if v.ItemID == itemID {
			cp := v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeVoteRepo) CountByItem(_ context.Context, itemID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.votes {
		if v.ItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (r *fakeVoteRepo) DeleteByItem(_ context.Context, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.votes[:0]
	for _, v := range r.votes {
		if v.ItemID != itemID {
			kept = append(kept, v)
		}
	}
	r.votes = kept
	return nil
}

// recorder captures every envelope published on a session's event
// channel. The memory adapter delivers synchronously, so envelopes are
// visible as soon as a handler returns.
type recorder struct {
	mu        sync.Mutex
	envelopes []engine.Envelope
}

func (r *recorder) handle(payload []byte) {
	var env engine.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ engine.EventType) []engine.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []engine.Envelope
	for _, env := range r.envelopes {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, typ engine.EventType) engine.Envelope {
	t.Helper()
	all := r.ofType(typ)
	if len(all) == 0 {
		t.Fatalf("no %s event recorded", typ)
	}
	return all[len(all)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.envelopes = nil
	r.mu.Unlock()
}

type fixture struct {
	adapter  store.Adapter
	sessions *fakeSessionRepo
	players  *fakePlayerRepo
	items    *fakeItemRepo
	votes    *fakeVoteRepo
	state    *store.StateStore
	presence *store.PresenceStore
	auth     *auth.Service
	clock    *clockwork.FakeClock
	timers   *timer.Engine
	eng      *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithQuotas(t, map[ratelimit.Action]ratelimit.Quota{})
}

func newFixtureWithQuotas(t *testing.T, quotas map[ratelimit.Action]ratelimit.Quota) *fixture {
	t.Helper()
	adapter := store.NewMemoryAdapter()
	clock := clockwork.NewFakeClock()
	timers := timer.NewEngine(store.NewTimerStore(adapter, time.Hour), clock)
	t.Cleanup(timers.Shutdown)

	f := &fixture{
		adapter:  adapter,
		sessions: newFakeSessionRepo(),
		players:  newFakePlayerRepo(),
		items:    newFakeItemRepo(),
		votes:    newFakeVoteRepo(),
		state:    store.NewStateStore(adapter, time.Hour),
		presence: store.NewPresenceStore(adapter, time.Minute),
		auth:     auth.NewService("test-secret"),
		clock:    clock,
		timers:   timers,
	}
	f.eng = engine.New(engine.Deps{
		Sessions:           f.sessions,
		Players:            f.players,
		Items:              f.items,
		Votes:              f.votes,
		State:              f.state,
		Presence:           f.presence,
		Conns:              store.NewConnStore(adapter, time.Hour),
		Bus:                adapter,
		Limiter:            ratelimit.New(adapter, quotas),
		Timers:             timers,
		Auth:               f.auth,
		AgreementThreshold: 0.8,
	})
	return f
}

// createSession seeds a durable session and its host player, the way
// the REST create endpoint does.
func (f *fixture) createSession(t *testing.T, hostName string) (*model.Session, *model.Player) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	host := &model.Player{ID: uuid.NewString(), Name: hostName, JoinedAt: now, LastActiveAt: now}
	session := &model.Session{
		ID:           uuid.NewString(),
		Title:        "Test Session",
		HostPlayerID: host.ID,
		Deck:         model.DeckFibonacci,
		Status:       model.SessionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	host.SessionID = session.ID
	if err := f.sessions.Create(ctx, session); err != nil {
		t.Fatal(err)
	}
	if err := f.players.Create(ctx, host); err != nil {
		t.Fatal(err)
	}
	return session, host
}

// watch subscribes a recorder to the session's event channel.
func (f *fixture) watch(t *testing.T, sessionID string) *recorder {
	t.Helper()
	rec := &recorder{}
	stop, err := f.adapter.Subscribe(context.Background(), store.EventChannel(sessionID), rec.handle)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(stop)
	return rec
}

func (f *fixture) connect(sessionID string) *engine.Client {
	return &engine.Client{ConnID: uuid.NewString(), SessionID: sessionID, ConnectedAt: time.Now()}
}

func (f *fixture) send(t *testing.T, client *engine.Client, kind engine.ActionKind, payload interface{}) {
	t.Helper()
	msg := engine.Message{Kind: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	f.eng.HandleMessage(context.Background(), client, data)
}

// joinHost reconnects the host onto a connection using their token.
func (f *fixture) joinHost(t *testing.T, session *model.Session, host *model.Player) *engine.Client {
	t.Helper()
	token, err := f.auth.IssueToken(session.ID, host.ID)
	if err != nil {
		t.Fatal(err)
	}
	client := f.connect(session.ID)
	f.send(t, client, engine.ActionSessionJoin, engine.JoinPayload{Token: token})
	if client.PlayerID() != host.ID {
		t.Fatalf("host join failed: player id %q", client.PlayerID())
	}
	return client
}

// joinPlayer joins a brand-new participant by name.
func (f *fixture) joinPlayer(t *testing.T, sessionID, name string, spectator bool) *engine.Client {
	t.Helper()
	client := f.connect(sessionID)
	f.send(t, client, engine.ActionSessionJoin, engine.JoinPayload{Name: name, Spectator: spectator})
	if client.PlayerID() == "" {
		t.Fatalf("join as %q failed", name)
	}
	return client
}

// createActiveItem creates an item over the host connection and
// activates it.
func (f *fixture) createActiveItem(t *testing.T, rec *recorder, hostClient *engine.Client, title string) *model.Item {
	t.Helper()
	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: title})
	var created model.Item
	mustDecode(t, rec.last(t, engine.EventItemCreated).Payload, &created)
	f.send(t, hostClient, engine.ActionItemActivate, engine.ItemPayload{ItemID: created.ID})
	var activated engine.ItemActivatedPayload
	mustDecode(t, rec.last(t, engine.EventItemActivated).Payload, &activated)
	return activated.Item
}

func mustDecode(t *testing.T, raw json.RawMessage, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
}

// lastError returns the most recent connection-error payload sent to
// the given connection.
func lastError(t *testing.T, rec *recorder, connID string) engine.ErrorPayload {
	t.Helper()
	all := rec.ofType(engine.EventConnectionError)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].TargetConnID == connID && len(all[i].Payload) > 0 {
			var p engine.ErrorPayload
			mustDecode(t, all[i].Payload, &p)
			return p
		}
	}
	t.Fatalf("no connection-error for conn %s", connID)
	return engine.ErrorPayload{}
}
