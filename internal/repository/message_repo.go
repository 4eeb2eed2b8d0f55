package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

type mongoMessageRepo struct {
	coll *mongo.Collection
}

func NewMessageRepository(coll *mongo.Collection) MessageRepository {
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("conversation_created"),
		},
		{
			Keys:    bson.D{{Key: "sender", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("sender_created"),
		},
	})
	return &mongoMessageRepo{coll: coll}
}

func (r *mongoMessageRepo) Insert(ctx context.Context, m *models.Message) (primitive.ObjectID, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ReadBy == nil {
		m.ReadBy = []models.ReadReceipt{}
	}
	res, err := r.coll.InsertOne(ctx, m)
	if err != nil {
		return primitive.NilObjectID, err
	}
	oid := res.InsertedID.(primitive.ObjectID)
	m.ID = oid
	return oid, nil
}

func (r *mongoMessageRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error) {
	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *mongoMessageRepo) FindPage(ctx context.Context, convID primitive.ObjectID, skip, limit int64) ([]*models.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	return r.findMany(ctx, bson.M{"conversation_id": convID}, opts)
}

func (r *mongoMessageRepo) FindByIDs(ctx context.Context, convID primitive.ObjectID, ids []primitive.ObjectID) ([]*models.Message, error) {
	filter := bson.M{
		"_id":             bson.M{"$in": ids},
		"conversation_id": convID,
	}
	return r.findMany(ctx, filter, nil)
}

func (r *mongoMessageRepo) FindLatest(ctx context.Context, convID primitive.ObjectID) (*models.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"conversation_id": convID}, opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *mongoMessageRepo) AddReadReceipt(ctx context.Context, msgID, uid primitive.ObjectID, at time.Time) error {
	// Guarded push: matches only when uid has no receipt yet, so a
	// repeated mark-read is a no-op.
	filter := bson.M{
		"_id":          msgID,
		"read_by.user": bson.M{"$ne": uid},
	}
	update := bson.M{"$push": bson.M{"read_by": models.ReadReceipt{User: uid, ReadAt: at}}}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

func (r *mongoMessageRepo) DeleteByIDs(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *mongoMessageRepo) DeleteByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"conversation_id": convID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *mongoMessageRepo) CountByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"conversation_id": convID})
}

func (r *mongoMessageRepo) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Message, error) {
	var cur *mongo.Cursor
	var err error
	if opts != nil {
		cur, err = r.coll.Find(ctx, filter, opts)
	} else {
		cur, err = r.coll.Find(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}
