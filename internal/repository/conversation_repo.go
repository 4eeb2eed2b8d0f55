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

type mongoConversationRepo struct {
	coll *mongo.Collection
}

func NewConversationRepository(coll *mongo.Collection) ConversationRepository {
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "last_activity", Value: -1}},
			Options: options.Index().SetName("participants_activity"),
		},
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "last_activity", Value: -1}},
			Options: options.Index().SetName("type_activity"),
		},
	})
	return &mongoConversationRepo{coll: coll}
}

func (r *mongoConversationRepo) Insert(ctx context.Context, c *models.Conversation) (primitive.ObjectID, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	res, err := r.coll.InsertOne(ctx, c)
	if err != nil {
		return primitive.NilObjectID, err
	}
	oid := res.InsertedID.(primitive.ObjectID)
	c.ID = oid
	return oid, nil
}

func (r *mongoConversationRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *mongoConversationRepo) FindDirectBetween(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error) {
	filter := bson.M{
		"type":         models.ConversationDirect,
		"participants": bson.M{"$all": bson.A{a, b}, "$size": 2},
	}
	var c models.Conversation
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *mongoConversationRepo) ListForUser(ctx context.Context, uid primitive.ObjectID) ([]*models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"participants": uid}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *mongoConversationRepo) UpdateParticipants(ctx context.Context, id primitive.ObjectID, participants []primitive.ObjectID, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"participants":  participants,
		"last_activity": at,
		"updated_at":    at,
	}})
	return err
}

func (r *mongoConversationRepo) UpdateAdmin(ctx context.Context, id, newAdmin primitive.ObjectID, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"created_by":    newAdmin,
		"last_activity": at,
		"updated_at":    at,
	}})
	return err
}

func (r *mongoConversationRepo) UpdateDetails(ctx context.Context, id primitive.ObjectID, name, description *string, at time.Time) error {
	set := bson.M{"last_activity": at, "updated_at": at}
	unset := bson.M{}
	if name != nil {
		set["name"] = *name
	}
	if description != nil {
		if *description == "" {
			unset["description"] = ""
		} else {
			set["description"] = *description
		}
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	_, err := r.coll.UpdateByID(ctx, id, update)
	return err
}

func (r *mongoConversationRepo) SetLastMessage(ctx context.Context, id primitive.ObjectID, msgID *primitive.ObjectID, at time.Time) error {
	set := bson.M{"last_activity": at, "updated_at": at}
	update := bson.M{"$set": set}
	if msgID != nil {
		set["last_message"] = *msgID
	} else {
		update["$unset"] = bson.M{"last_message": ""}
	}
	_, err := r.coll.UpdateByID(ctx, id, update)
	return err
}

func (r *mongoConversationRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
