package engine_test

import (
	"context"
	"testing"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

func TestVoteBroadcastsCountOnly(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	item := f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})

	env := rec.last(t, engine.EventVoteSubmitted)
	var generic map[string]interface{}
	mustDecode(t, env.Payload, &generic)
	if _, leaked := generic["value"]; leaked {
		t.Fatal("vote value must stay hidden until reveal")
	}
	var p engine.VoteEventPayload
	mustDecode(t, env.Payload, &p)
	if p.ItemID != item.ID || p.PlayerID != bob.PlayerID() || p.VoteCount != 1 {
		t.Fatalf("unexpected vote event %+v", p)
	}
}

func TestRevoteDoesNotInflateCount(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	item := f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	f.send(t, bob, engine.ActionVoteChange, engine.VotePayload{ItemID: item.ID, Value: "8"})

	var p engine.VoteEventPayload
	mustDecode(t, rec.last(t, engine.EventVoteChanged).Payload, &p)
	if p.VoteCount != 1 {
		t.Fatalf("re-vote must overwrite, count %d", p.VoteCount)
	}
}

func TestVotePolicyRejections(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	spectator := f.joinPlayer(t, session.ID, "Watcher", true)
	bob := f.joinPlayer(t, session.ID, "Bob", false)

	// No active item yet.
	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: "missing", Value: "5"})
	if p := lastError(t, rec, bob.ConnID); p.Code != "item_not_active" {
		t.Fatalf("expected item_not_active, got %q", p.Code)
	}

	item := f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "42"})
	if p := lastError(t, rec, bob.ConnID); p.Code != "invalid_card" {
		t.Fatalf("expected invalid_card, got %q", p.Code)
	}

	f.send(t, spectator, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	if p := lastError(t, rec, spectator.ConnID); p.Code != "spectator_cannot_vote" {
		t.Fatalf("expected spectator_cannot_vote, got %q", p.Code)
	}
}

func TestRevealBelowThresholdLeavesEstimateOpen(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	item := f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, hostClient, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "8"})
	f.send(t, hostClient, engine.ActionCardsReveal, nil)

	var p engine.RevealPayload
	mustDecode(t, rec.last(t, engine.EventCardsRevealed).Payload, &p)
	if len(p.Votes) != 2 {
		t.Fatalf("expected 2 revealed votes, got %d", len(p.Votes))
	}
	if p.Consensus.AgreementRatio != 0.5 {
		t.Fatalf("expected agreement 0.5, got %v", p.Consensus.AgreementRatio)
	}
	if p.Consensus.Average == nil || *p.Consensus.Average != 6.5 {
		t.Fatalf("expected average 6.5, got %v", p.Consensus.Average)
	}
	if p.FinalEstimate != "" {
		t.Fatalf("0.5 agreement must not auto-accept, got %q", p.FinalEstimate)
	}

	// Voting is closed once revealed.
	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	if e := lastError(t, rec, bob.ConnID); e.Code != "voting_closed" {
		t.Fatalf("expected voting_closed, got %q", e.Code)
	}
}

func TestRevealAtThresholdPersistsFinalEstimate(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	item := f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, hostClient, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	f.send(t, hostClient, engine.ActionCardsReveal, nil)

	var p engine.RevealPayload
	mustDecode(t, rec.last(t, engine.EventCardsRevealed).Payload, &p)
	if p.FinalEstimate != "5" {
		t.Fatalf("unanimous vote must auto-accept the mode, got %q", p.FinalEstimate)
	}
	stored, _ := f.items.GetByID(context.Background(), item.ID)
	if stored.FinalEstimate != "5" {
		t.Fatalf("final estimate must persist on the item, got %q", stored.FinalEstimate)
	}
}

func TestRevealRequiresHost(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, bob, engine.ActionCardsReveal, nil)
	if p := lastError(t, rec, bob.ConnID); p.Code != "not_host" {
		t.Fatalf("expected not_host, got %q", p.Code)
	}
	f.send(t, bob, engine.ActionItemCreate, engine.ItemPayload{Title: "Sneaky"})
	if p := lastError(t, rec, bob.ConnID); p.Code != "not_host" {
		t.Fatalf("expected not_host for item create, got %q", p.Code)
	}
}

func TestResetClearsVotesForRevote(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	item := f.createActiveItem(t, rec, hostClient, "Login flow")

	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	f.send(t, hostClient, engine.ActionCardsReveal, nil)
	f.send(t, hostClient, engine.ActionGameReset, nil)

	if len(rec.ofType(engine.EventGameReset)) != 1 {
		t.Fatal("expected a game-reset broadcast")
	}
	count, _ := f.votes.CountByItem(context.Background(), item.ID)
	if count != 0 {
		t.Fatalf("votes must be cleared on reset, got %d", count)
	}
	state, _ := f.state.Get(context.Background(), session.ID)
	if state.Revealed {
		t.Fatal("reveal flag must drop on reset")
	}

	// A fresh round accepts votes again.
	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "8"})
	var p engine.VoteEventPayload
	mustDecode(t, rec.last(t, engine.EventVoteSubmitted).Payload, &p)
	if p.VoteCount != 1 {
		t.Fatalf("expected fresh vote accepted, count %d", p.VoteCount)
	}
}

func TestResetAdvancesToNextItem(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	first := f.createActiveItem(t, rec, hostClient, "First story")

	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: "Second story"})
	var second model.Item
	mustDecode(t, rec.last(t, engine.EventItemCreated).Payload, &second)

	f.send(t, hostClient, engine.ActionGameReset, engine.ResetPayload{NextItemID: second.ID})

	state, _ := f.state.Get(context.Background(), session.ID)
	if state.ActiveItemID != second.ID || state.Revealed {
		t.Fatalf("expected second item active, got %+v", state)
	}
	completed, _ := f.items.GetByID(context.Background(), first.ID)
	if completed.Status != model.ItemCompleted {
		t.Fatalf("previous item must be completed, got %q", completed.Status)
	}
	next, _ := f.items.GetByID(context.Background(), second.ID)
	if next.Status != model.ItemVoting {
		t.Fatalf("next item must be voting, got %q", next.Status)
	}
}

func TestActivateSwitchesActiveItem(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	first := f.createActiveItem(t, rec, hostClient, "First story")

	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: "Second story"})
	var second model.Item
	mustDecode(t, rec.last(t, engine.EventItemCreated).Payload, &second)
	if second.Order != 1 {
		t.Fatalf("expected order 1 for second item, got %d", second.Order)
	}

	f.send(t, hostClient, engine.ActionItemActivate, engine.ItemPayload{ItemID: second.ID})
	var activated engine.ItemActivatedPayload
	mustDecode(t, rec.last(t, engine.EventItemActivated).Payload, &activated)
	if activated.Item.ID != second.ID || activated.PreviousItemID != first.ID {
		t.Fatalf("unexpected activation payload %+v", activated)
	}

	demoted, _ := f.items.GetByID(context.Background(), first.ID)
	if demoted.Status != model.ItemPending {
		t.Fatalf("previous item must return to pending, got %q", demoted.Status)
	}

	// Re-activating the active item is a no-op rejection.
	f.send(t, hostClient, engine.ActionItemActivate, engine.ItemPayload{ItemID: second.ID})
	if p := lastError(t, rec, hostClient.ConnID); p.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q", p.Code)
	}
}

func TestItemOrderAdvancesPastDeletedItems(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: "First story"})
	var first model.Item
	mustDecode(t, rec.last(t, engine.EventItemCreated).Payload, &first)
	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: "Second story"})
	var second model.Item
	mustDecode(t, rec.last(t, engine.EventItemCreated).Payload, &second)

	f.send(t, hostClient, engine.ActionItemDelete, engine.ItemPayload{ItemID: first.ID})

	// The freed slot is never reused, so orders stay unique.
	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: "Third story"})
	var third model.Item
	mustDecode(t, rec.last(t, engine.EventItemCreated).Payload, &third)
	if third.Order != second.Order+1 {
		t.Fatalf("expected order %d after a delete, got %d", second.Order+1, third.Order)
	}
}

func TestPromoteTransfersHostRole(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)

	f.send(t, hostClient, engine.ActionPlayerPromote, engine.PlayerPayload{PlayerID: bob.PlayerID()})
	if len(rec.ofType(engine.EventPlayerPromoted)) != 1 {
		t.Fatal("expected a player-promoted broadcast")
	}

	stored, _ := f.sessions.GetByID(context.Background(), session.ID)
	if stored.HostPlayerID != bob.PlayerID() {
		t.Fatal("durable host id must move to the promoted player")
	}

	// Privileges follow the durable record immediately.
	f.send(t, bob, engine.ActionItemCreate, engine.ItemPayload{Title: "Bob's story"})
	if len(rec.ofType(engine.EventItemCreated)) != 1 {
		t.Fatal("promoted player must hold host privileges")
	}
	f.send(t, hostClient, engine.ActionItemCreate, engine.ItemPayload{Title: "Stale host"})
	if p := lastError(t, rec, hostClient.ConnID); p.Code != "not_host" {
		t.Fatalf("demoted host must be rejected, got %q", p.Code)
	}
}

func TestRemovePlayerClosesTheirConnections(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	bobID := bob.PlayerID()

	f.send(t, hostClient, engine.ActionPlayerRemove, engine.PlayerPayload{PlayerID: bobID})

	closed := false
	for _, env := range rec.ofType(engine.EventPlayerRemoved) {
		if env.TargetPlayerID == bobID && env.CloseTarget {
			closed = true
		}
	}
	if !closed {
		t.Fatal("removed player must get a targeted close")
	}

	if p, _ := f.players.GetByID(context.Background(), bobID); p != nil {
		t.Fatal("player record must be deleted")
	}
	state, _ := f.state.Get(context.Background(), session.ID)
	if state.FindPlayer(bobID) >= 0 {
		t.Fatal("player must leave live state")
	}

	// The host cannot remove themselves.
	f.send(t, hostClient, engine.ActionPlayerRemove, engine.PlayerPayload{PlayerID: host.ID})
	if p := lastError(t, rec, hostClient.ConnID); p.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q", p.Code)
	}
}

func TestRenameChecksUniqueness(t *testing.T) {
	f := newFixture(t)
	session, _ := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	f.joinPlayer(t, session.ID, "Bob", false)
	carol := f.joinPlayer(t, session.ID, "Carol", false)

	f.send(t, carol, engine.ActionPlayerUpdate, engine.PlayerPayload{Name: "BOB"})
	if p := lastError(t, rec, carol.ConnID); p.Code != "name_taken" {
		t.Fatalf("expected name_taken, got %q", p.Code)
	}

	f.send(t, carol, engine.ActionPlayerUpdate, engine.PlayerPayload{Name: "Carole"})
	var updated model.PlayerView
	mustDecode(t, rec.last(t, engine.EventPlayerUpdated).Payload, &updated)
	if updated.Name != "Carole" {
		t.Fatalf("expected rename broadcast, got %+v", updated)
	}
}

func TestRenameKeepsHostFlag(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	f.send(t, hostClient, engine.ActionPlayerUpdate, engine.PlayerPayload{Name: "Alicia"})

	var updated model.PlayerView
	mustDecode(t, rec.last(t, engine.EventPlayerUpdated).Payload, &updated)
	if updated.Name != "Alicia" || !updated.IsHost || !updated.Online {
		t.Fatalf("rename must keep host and presence flags, got %+v", updated)
	}
}

func TestTimerActionsAreHostOnlyAndBroadcast(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)

	f.send(t, bob, engine.ActionTimerStart, engine.TimerPayload{DurationSeconds: 300})
	if p := lastError(t, rec, bob.ConnID); p.Code != "not_host" {
		t.Fatalf("expected not_host, got %q", p.Code)
	}

	f.send(t, hostClient, engine.ActionTimerStart, engine.TimerPayload{DurationSeconds: 300, AutoReveal: true})
	var p engine.TimerEventPayload
	mustDecode(t, rec.last(t, engine.EventTimerUpdated).Payload, &p)
	if !p.Timer.Running || p.Timer.Remaining != 300 || !p.Timer.AutoReveal {
		t.Fatalf("unexpected timer state %+v", p.Timer)
	}

	f.send(t, hostClient, engine.ActionTimerPause, nil)
	mustDecode(t, rec.last(t, engine.EventTimerUpdated).Payload, &p)
	if !p.Timer.Paused {
		t.Fatal("expected paused timer broadcast")
	}

	// Pausing twice is an invalid transition.
	f.send(t, hostClient, engine.ActionTimerPause, nil)
	if e := lastError(t, rec, hostClient.ConnID); e.Code != "timer_invalid_transition" {
		t.Fatalf("expected timer_invalid_transition, got %q", e.Code)
	}
}

// The walkthrough: host starts a session, a second player joins, both
// vote, the host reveals, then resets for a re-vote.
func TestPlanningRoundWalkthrough(t *testing.T) {
	f := newFixture(t)
	session, host := f.createSession(t, "Alice")
	rec := f.watch(t, session.ID)

	hostClient := f.joinHost(t, session, host)
	bob := f.joinPlayer(t, session.ID, "Bob", false)
	item := f.createActiveItem(t, rec, hostClient, "Checkout rewrite")

	f.send(t, hostClient, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "5"})
	f.send(t, bob, engine.ActionVoteSubmit, engine.VotePayload{ItemID: item.ID, Value: "8"})

	var voteEv engine.VoteEventPayload
	mustDecode(t, rec.last(t, engine.EventVoteSubmitted).Payload, &voteEv)
	if voteEv.VoteCount != 2 {
		t.Fatalf("expected 2 votes in, got %d", voteEv.VoteCount)
	}

	f.send(t, hostClient, engine.ActionCardsReveal, nil)
	var reveal engine.RevealPayload
	mustDecode(t, rec.last(t, engine.EventCardsRevealed).Payload, &reveal)
	if reveal.Consensus.AgreementRatio != 0.5 {
		t.Fatalf("expected agreement 0.5, got %v", reveal.Consensus.AgreementRatio)
	}
	if reveal.Consensus.Average == nil || *reveal.Consensus.Average != 6.5 {
		t.Fatalf("expected average 6.5, got %v", reveal.Consensus.Average)
	}
	if reveal.Consensus.ModeValue != "5" && reveal.Consensus.ModeValue != "8" {
		t.Fatalf("mode must be one of the tied values, got %q", reveal.Consensus.ModeValue)
	}

	f.send(t, hostClient, engine.ActionGameReset, nil)
	count, _ := f.votes.CountByItem(context.Background(), item.ID)
	if count != 0 {
		t.Fatalf("reset must clear item votes, got %d", count)
	}
	state, _ := f.state.Get(context.Background(), session.ID)
	if state.Revealed || state.ActiveItemID != item.ID {
		t.Fatalf("reset must keep the item active with the reveal flag down, got %+v", state)
	}
}
