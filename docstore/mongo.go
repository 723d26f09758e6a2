package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB database. Collections are tables.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore creates a MongoStore on db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// Database returns the underlying database.
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

// Find implements Store.
func (s *MongoStore) Find(ctx context.Context, collection string, query Document, opts *FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if opts != nil {
		if len(opts.Projection) > 0 {
			findOpts.SetProjection(bson.M(opts.Projection))
		}
		if len(opts.Sort) > 0 {
			findOpts.SetSort(sortDocument(opts.Sort))
		}
		if opts.Limit > 0 {
			findOpts.SetLimit(opts.Limit)
		}
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter(query), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer cursor.Close(ctx)

	var results []Document
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		results = append(results, Document(doc))
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return results, nil
}

// FindOne implements Store.
func (s *MongoStore) FindOne(ctx context.Context, collection string, query, projection Document) (Document, error) {
	findOpts := options.FindOne()
	if len(projection) > 0 {
		findOpts.SetProjection(bson.M(projection))
	}

	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, filter(query), findOpts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return Document(doc), nil
}

// Update implements Store.
func (s *MongoStore) Update(ctx context.Context, collection string, query, update Document, multi, upsert bool) error {
	coll := s.db.Collection(collection)
	f := filter(query)

	var err error
	switch {
	case !isOperatorDocument(update):
		_, err = coll.ReplaceOne(ctx, f, bson.M(update), options.Replace().SetUpsert(upsert))
	case multi:
		_, err = coll.UpdateMany(ctx, f, bson.M(update), options.Update().SetUpsert(upsert))
	default:
		_, err = coll.UpdateOne(ctx, f, bson.M(update), options.Update().SetUpsert(upsert))
	}
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// Insert implements Store.
func (s *MongoStore) Insert(ctx context.Context, collection string, doc Document) (any, error) {
	if _, ok := doc[IDField]; !ok {
		doc[IDField] = primitive.NewObjectID()
	}

	res, err := s.db.Collection(collection).InsertOne(ctx, bson.M(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return res.InsertedID, nil
}

// Remove implements Store.
func (s *MongoStore) Remove(ctx context.Context, collection string, query Document) error {
	if _, err := s.db.Collection(collection).DeleteMany(ctx, filter(query)); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// filter converts query to a BSON filter, turning a hex string _id into an ObjectID.
func filter(query Document) bson.M {
	f := bson.M{}
	for k, v := range query {
		f[k] = v
	}
	if hex, ok := f[IDField].(string); ok {
		if oid, err := primitive.ObjectIDFromHex(hex); err == nil {
			f[IDField] = oid
		}
	}
	return f
}

func sortDocument(sort Sort) bson.D {
	d := make(bson.D, 0, len(sort))
	for _, f := range sort {
		dir := 1
		if f.Direction < 0 {
			dir = -1
		}
		d = append(d, bson.E{Key: f.Field, Value: dir})
	}
	return d
}
