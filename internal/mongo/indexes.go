package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes both repositories rely on.
// The unique triple index is what makes FindOrCreate safe under concurrency.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	chats := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sellerId", Value: 1}, {Key: "buyerId", Value: 1}, {Key: "listingId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("chat_triple_uniq"),
		},
		{
			Keys:    bson.D{{Key: "messages.senderId", Value: 1}},
			Options: options.Index().SetName("messages_sender"),
		},
		{Keys: bson.D{{Key: "sellerId", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "buyerId", Value: 1}, {Key: "updatedAt", Value: -1}}},
	}
	if _, err := db.Collection(chatsCollection).Indexes().CreateMany(ctx, chats); err != nil {
		return fmt.Errorf("chats indexes: %w", err)
	}

	blocks := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "blockerId", Value: 1}, {Key: "blockedId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("block_pair_uniq"),
		},
		{Keys: bson.D{{Key: "blockedId", Value: 1}}},
	}
	if _, err := db.Collection(blocksCollection).Indexes().CreateMany(ctx, blocks); err != nil {
		return fmt.Errorf("blocks indexes: %w", err)
	}
	return nil
}
