package repository

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/chatserver/internal/apperr"
	"github.com/yourorg/chatserver/internal/models"
)

type mongoUserRepo struct {
	coll *mongo.Collection
}

// NewUserRepository wraps the users collection. Unique indexes on email
// and username back the signup conflict checks.
func NewUserRepository(coll *mongo.Collection) UserRepository {
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("username_unique"),
		},
	})
	return &mongoUserRepo{coll: coll}
}

func (r *mongoUserRepo) Insert(ctx context.Context, u *models.User) (primitive.ObjectID, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	res, err := r.coll.InsertOne(ctx, u)
	if err != nil {
		return primitive.NilObjectID, err
	}
	oid := res.InsertedID.(primitive.ObjectID)
	u.ID = oid
	return oid, nil
}

func (r *mongoUserRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *mongoUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *mongoUserRepo) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *mongoUserRepo) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*models.User, error) {
	return r.findMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
}

func (r *mongoUserRepo) FindByEmails(ctx context.Context, emails []string) ([]*models.User, error) {
	return r.findMany(ctx, bson.M{"email": bson.M{"$in": emails}}, nil)
}

func (r *mongoUserRepo) UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"last_login": at,
		"updated_at": at,
	}})
	return err
}

func (r *mongoUserRepo) Search(ctx context.Context, query string, exclude primitive.ObjectID, limit int64) ([]*models.User, error) {
	pattern := regexp.QuoteMeta(query)
	filter := bson.M{
		"_id": bson.M{"$ne": exclude},
		"$or": bson.A{
			bson.M{"username": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"email": bson.M{"$regex": pattern, "$options": "i"}},
		},
	}
	return r.findMany(ctx, filter, options.Find().SetLimit(limit))
}

func (r *mongoUserRepo) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.User, error) {
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

	var out []*models.User
	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, cur.Err()
}
