package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwrk-planet/market-chat/internal/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// appendRetries bounds optimistic retries when concurrent appends race on messageCount.
const appendRetries = 64

var errAppendContention = errors.New("append contention")

// headerProjection keeps only the last embedded message.
var headerProjection = bson.D{{Key: "messages", Value: bson.D{{Key: "$slice", Value: -1}}}}

// ChatRepository stores each chat as one document with its messages embedded.
type ChatRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewChatRepository(db *mongo.Database) *ChatRepository {
	return &ChatRepository{coll: db.Collection(chatsCollection), now: time.Now}
}

func keyFilter(key domain.ChatKey) bson.D {
	return bson.D{
		{Key: "sellerId", Value: key.SellerID},
		{Key: "buyerId", Value: key.BuyerID},
		{Key: "listingId", Value: key.ListingID},
	}
}

// FindOrCreate upserts on the unique triple. Two racing upserts can both miss
// and one of them then fails with a duplicate key; that one simply re-reads.
func (r *ChatRepository) FindOrCreate(ctx context.Context, key domain.ChatKey, opts domain.CreateChatOptions) (*domain.Chat, bool, error) {
	now := r.now().UTC()
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "_id", Value: uuid.NewString()},
		{Key: "isSystemMessage", Value: opts.IsSystemMessage},
		{Key: "messageCount", Value: int64(0)},
		{Key: "messages", Value: bson.A{}},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
	}}}

	created := false
	res, err := r.coll.UpdateOne(ctx, keyFilter(key), update, options.Update().SetUpsert(true))
	switch {
	case err == nil:
		created = res.UpsertedCount == 1
	case mongo.IsDuplicateKeyError(err):
		// проиграли гонку: документ уже создан другим запросом
	default:
		return nil, false, err
	}

	var doc chatDoc
	err = r.coll.FindOne(ctx, keyFilter(key), options.FindOne().SetProjection(headerProjection)).Decode(&doc)
	if err != nil {
		return nil, false, notFoundOr(err, key.ListingID)
	}
	return doc.toDomain(), created, nil
}

func (r *ChatRepository) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	var doc chatDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: chatID}},
		options.FindOne().SetProjection(headerProjection)).Decode(&doc)
	if err != nil {
		return nil, notFoundOr(err, chatID)
	}
	return doc.toDomain(), nil
}

// Append pushes the message guarded by the observed messageCount, so seq is
// assigned exactly once per position even with writers in other processes.
func (r *ChatRepository) Append(ctx context.Context, chatID string, msg domain.Message) (domain.AppendResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ChatID = chatID

	for attempt := 0; attempt < appendRetries; attempt++ {
		head, err := r.Get(ctx, chatID)
		if err != nil {
			return domain.AppendResult{}, err
		}

		if msg.ClientMsgID != "" {
			prev, found, err := r.messageByKey(ctx, chatID, msg.SenderID, msg.ClientMsgID)
			if err != nil {
				return domain.AppendResult{}, err
			}
			if found {
				return domain.AppendResult{Chat: head, Message: prev, Duplicate: true}, nil
			}
		}

		msg.Seq = head.MessageCount + 1
		now := r.now().UTC()

		filter := bson.D{
			{Key: "_id", Value: chatID},
			{Key: "messageCount", Value: head.MessageCount},
		}
		if msg.ClientMsgID != "" {
			filter = append(filter, bson.E{Key: "messages", Value: bson.D{
				{Key: "$not", Value: clientKeyMatch(msg.SenderID, msg.ClientMsgID)},
			}})
		}
		update := bson.D{
			{Key: "$push", Value: bson.D{{Key: "messages", Value: newMessageDoc(msg)}}},
			{Key: "$set", Value: bson.D{
				{Key: "messageCount", Value: msg.Seq},
				{Key: "updatedAt", Value: now},
			}},
		}

		res, err := r.coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return domain.AppendResult{}, err
		}
		if res.MatchedCount == 1 {
			head.MessageCount = msg.Seq
			head.UpdatedAt = now
			stored := msg
			stored.SentAt = msg.SentAt.UTC()
			head.LastMessage = &stored
			return domain.AppendResult{Chat: head, Message: stored}, nil
		}
		// кто-то успел раньше: перечитываем заголовок
	}
	return domain.AppendResult{}, fmt.Errorf("chat %s: %w after %d attempts", chatID, errAppendContention, appendRetries)
}

// clientKeyMatch: ключ идемпотентности уникален в паре с отправителем.
func clientKeyMatch(senderID, clientMsgID string) bson.D {
	return bson.D{{Key: "$elemMatch", Value: bson.D{
		{Key: "senderId", Value: senderID},
		{Key: "clientMsgId", Value: clientMsgID},
	}}}
}

func (r *ChatRepository) messageByKey(ctx context.Context, chatID, senderID, clientMsgID string) (domain.Message, bool, error) {
	var doc chatDoc
	err := r.coll.FindOne(ctx,
		bson.D{{Key: "_id", Value: chatID}, {Key: "messages", Value: clientKeyMatch(senderID, clientMsgID)}},
		options.FindOne().SetProjection(bson.D{{Key: "messages.$", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	if len(doc.Messages) == 0 {
		return domain.Message{}, false, nil
	}
	return doc.Messages[0].toDomain(chatID), true, nil
}

func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]domain.ChatSummary, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "sellerId", Value: userID}},
		bson.D{{Key: "buyerId", Value: userID}},
	}}}
	opts := options.Find().
		SetProjection(headerProjection).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]domain.ChatSummary, 0)
	for cur.Next(ctx) {
		var doc chatDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain().Summary())
	}
	return out, cur.Err()
}

// Messages relies on seq == index+1 inside the embedded array.
func (r *ChatRepository) Messages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]domain.Message, error) {
	skip := max(afterSeq, 0)
	n := int64(limit)
	if limit <= 0 {
		n = math.MaxInt32
	}
	if skip > math.MaxInt32 {
		skip = math.MaxInt32
	}

	projection := bson.D{{Key: "messages", Value: bson.D{{Key: "$slice", Value: bson.A{skip, n}}}}}
	var doc chatDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: chatID}},
		options.FindOne().SetProjection(projection)).Decode(&doc)
	if err != nil {
		return nil, notFoundOr(err, chatID)
	}

	out := make([]domain.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		out = append(out, m.toDomain(chatID))
	}
	return out, nil
}

func notFoundOr(err error, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("chat %s: %w", id, domain.ErrNotFound)
	}
	return err
}
