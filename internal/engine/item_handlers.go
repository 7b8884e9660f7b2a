package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

// handleItem covers the item lifecycle: create, update, delete,
// activate. All host only. Activation deactivates the previous active
// item and forces the reveal flag false.
func (e *Engine) handleItem(ctx context.Context, client *Client, kind ActionKind, raw json.RawMessage) error {
	if _, err := e.requireHost(ctx, client); err != nil {
		return err
	}
	var p ItemPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return reject(CodeBadRequest, "malformed item payload")
		}
	}

	switch kind {
	case ActionItemCreate:
		return e.createItem(ctx, client, p)
	case ActionItemUpdate:
		return e.updateItem(ctx, client, p)
	case ActionItemDelete:
		return e.deleteItem(ctx, client, p)
	default:
		return e.activateItem(ctx, client, p)
	}
}

func (e *Engine) createItem(ctx context.Context, client *Client, p ItemPayload) error {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return reject(CodeBadRequest, "item title is required")
	}
	existing, err := e.items.GetBySession(ctx, client.SessionID)
	if err != nil {
		return err
	}
	// Next order slot past the highest survivor, so deletes never
	// produce duplicate order values.
	order := 0
	for _, it := range existing {
		if it.Order >= order {
			order = it.Order + 1
		}
	}
	now := time.Now()
	item := &model.Item{
		ID:          uuid.NewString(),
		SessionID:   client.SessionID,
		Title:       title,
		Description: p.Description,
		Status:      model.ItemPending,
		Order:       order,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.items.Create(ctx, item); err != nil {
		return err
	}
	e.broadcast(ctx, client.SessionID, EventItemCreated, item)
	return nil
}

func (e *Engine) updateItem(ctx context.Context, client *Client, p ItemPayload) error {
	item, err := e.loadItem(ctx, client, p.ItemID)
	if err != nil {
		return err
	}
	if title := strings.TrimSpace(p.Title); title != "" {
		item.Title = title
	}
	if p.Description != "" {
		item.Description = p.Description
	}
	if err := e.items.Update(ctx, item); err != nil {
		return err
	}
	e.broadcast(ctx, client.SessionID, EventItemUpdated, item)
	return nil
}

func (e *Engine) deleteItem(ctx context.Context, client *Client, p ItemPayload) error {
	item, err := e.loadItem(ctx, client, p.ItemID)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	if err := e.items.Delete(ctx, item.ID); err != nil {
		return err
	}
	if err := e.votes.DeleteByItem(ctx, item.ID); err != nil {
		return err
	}

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}
	if state.ActiveItemID == item.ID {
		state.ActiveItemID = ""
		state.Revealed = false
		if err := e.state.Save(ctx, state); err != nil {
			return err
		}
	}
	e.broadcast(ctx, client.SessionID, EventItemDeleted, map[string]string{"itemId": item.ID})
	return nil
}

func (e *Engine) activateItem(ctx context.Context, client *Client, p ItemPayload) error {
	item, err := e.loadItem(ctx, client, p.ItemID)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}
	previousID := state.ActiveItemID
	if previousID == item.ID {
		return reject(CodeBadRequest, "item is already active")
	}
	if previousID != "" {
		if previous, err := e.items.GetByID(ctx, previousID); err == nil && previous != nil && previous.Status == model.ItemVoting {
			previous.Status = model.ItemPending
			if err := e.items.Update(ctx, previous); err != nil {
				return err
			}
		}
	}

	item.Status = model.ItemVoting
	if err := e.items.Update(ctx, item); err != nil {
		return err
	}

	state.ActiveItemID = item.ID
	state.Revealed = false
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}

	e.broadcast(ctx, client.SessionID, EventItemActivated, ItemActivatedPayload{
		Item:           item,
		PreviousItemID: previousID,
	})
	return nil
}

func (e *Engine) loadItem(ctx context.Context, client *Client, itemID string) (*model.Item, error) {
	if itemID == "" {
		return nil, reject(CodeBadRequest, "itemId is required")
	}
	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.SessionID != client.SessionID {
		return nil, reject(CodeNotFound, "item not found")
	}
	return item, nil
}
