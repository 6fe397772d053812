package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"inspectline/internal/domain"
)

const (
	DefaultMongoDatabase   = "inspectline"
	DefaultMongoCollection = "businesses"
)

// Mongo serves the directory from a businesses collection.
type Mongo struct {
	Client     *mongo.Client
	Collection *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if database == "" {
		database = DefaultMongoDatabase
	}
	if collection == "" {
		collection = DefaultMongoCollection
	}
	return &Mongo{Client: client, Collection: client.Database(database).Collection(collection)}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *Mongo) Get(ctx context.Context, id string) (domain.Business, error) {
	var b domain.Business
	err := m.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Business{}, ErrNotFound
	}
	if err != nil {
		return domain.Business{}, err
	}
	return b, nil
}

func (m *Mongo) Search(ctx context.Context, query string, limit int) ([]domain.Business, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.Collection.Find(ctx, searchFilter(query), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	res := []domain.Business{}
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func searchFilter(query string) bson.M {
	q := strings.TrimSpace(query)
	if q == "" {
		return bson.M{}
	}
	re := primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
	return bson.M{"$or": bson.A{
		bson.M{"name": re},
		bson.M{"address": re},
	}}
}
