package mongo

import (
	"context"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BlockRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewBlockRepository(db *mongo.Database) *BlockRepository {
	return &BlockRepository{coll: db.Collection(blocksCollection), now: time.Now}
}

func pairFilter(blockerID, blockedID string) bson.D {
	return bson.D{{Key: "blockerId", Value: blockerID}, {Key: "blockedId", Value: blockedID}}
}

// Block is an upsert, so repeating it keeps the original createdAt.
func (r *BlockRepository) Block(ctx context.Context, blockerID, blockedID string) error {
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: r.now().UTC()}}}}
	_, err := r.coll.UpdateOne(ctx, pairFilter(blockerID, blockedID), update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *BlockRepository) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := r.coll.DeleteOne(ctx, pairFilter(blockerID, blockedID))
	return err
}

func (r *BlockRepository) ExistsEither(ctx context.Context, a, b string) (bool, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{pairFilter(a, b), pairFilter(b, a)}}}
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *BlockRepository) ListByBlocker(ctx context.Context, blockerID string) ([]domain.Block, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "blockedId", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.D{{Key: "blockerId", Value: blockerID}}, opts)
	if err != nil {
		return nil, err
	}

	var docs []blockDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.Block, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.Block{BlockerID: d.BlockerID, BlockedID: d.BlockedID, CreatedAt: d.CreatedAt.UTC()})
	}
	return out, nil
}
