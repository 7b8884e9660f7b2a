package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

type VoteRepo interface {
	// Upsert writes the vote keyed by (item, player): resubmission
	// overwrites, never duplicates.
	Upsert(ctx context.Context, vote *model.Vote) error
	GetByItem(ctx context.Context, itemID string) ([]*model.Vote, error)
	CountByItem(ctx context.Context, itemID string) (int64, error)
	DeleteByItem(ctx context.Context, itemID string) error
}

type voteRepo struct {
	collection *mongo.Collection
}

func NewVoteRepo(db *mongo.Database) VoteRepo {
	return &voteRepo{collection: db.Collection("votes")}
}

func (r *voteRepo) Upsert(ctx context.Context, vote *model.Vote) error {
	filter := bson.M{"itemId": vote.ItemID, "playerId": vote.PlayerID}
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, filter, vote, opts)
	return err
}

func (r *voteRepo) GetByItem(ctx context.Context, itemID string) ([]*model.Vote, error) {
	// Sorted by update time so consensus tie-breaking is stable across
	// reads.
	opts := options.Find().SetSort(bson.M{"updatedAt": 1})
	cursor, err := r.collection.Find(ctx, bson.M{"itemId": itemID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var votes []*model.Vote
	if err := cursor.All(ctx, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

func (r *voteRepo) CountByItem(ctx context.Context, itemID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"itemId": itemID})
}

func (r *voteRepo) DeleteByItem(ctx context.Context, itemID string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"itemId": itemID})
	return err
}
