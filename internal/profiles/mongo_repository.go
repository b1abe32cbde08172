package profiles

import (
	"context"
	"time"

	"github.com/cdahabbo/rolesync/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements Repository using a Mongo collection keyed by user_id.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository creates a repository for the given collection and ensures
// the unique user_id index exists.
func NewMongoRepository(ctx context.Context, col *mongo.Collection) (*MongoRepository, error) {
	idx := mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, err
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Get(ctx context.Context, userID string) (*models.VerifiedProfile, error) {
	var p models.VerifiedProfile
	if err := r.col.FindOne(ctx, bson.M{"user_id": userID}).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *MongoRepository) Upsert(ctx context.Context, p *models.VerifiedProfile) (bool, error) {
	if p.LinkedAt.IsZero() {
		p.LinkedAt = time.Now().UTC()
	}
	// only touch the document when the linked name differs
	filter := bson.M{"user_id": p.UserID, "habbo": bson.M{"$ne": p.Habbo}}
	update := bson.M{"$set": bson.M{"habbo": p.Habbo, "linked_at": p.LinkedAt}}
	res, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// the upsert raced with an identical row: nothing changed
			return false, nil
		}
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

func (r *MongoRepository) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoRepository) List(ctx context.Context) ([]models.VerifiedProfile, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "linked_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.VerifiedProfile{}
	for cur.Next(ctx) {
		var p models.VerifiedProfile
		if err := cur.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, cur.Err()
}
