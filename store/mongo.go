package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	defaultMongoDatabase   = "dsched"
	defaultMongoCollection = "schedules"
)

type mongoRecord struct {
	Name  string `bson:"_id"`
	Order int    `bson:"order"`
	Data  string `bson:"data"`
}

type mongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// OpenMongo connects to cfg.URI and uses cfg.Database/cfg.Collection.
func OpenMongo(cfg Config, logger *zap.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo uri is required")
	}
	database := cfg.Database
	if database == "" {
		database = defaultMongoDatabase
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultMongoCollection
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("[Store] mongo connected", zap.String("database", database), zap.String("collection", collection))
	return &mongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		logger: logger,
	}, nil
}

func (s *mongoStore) Put(ctx context.Context, r Record) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": r.Name},
		mongoRecord{Name: r.Name, Order: r.Order, Data: string(r.Data)},
		options.Replace().SetUpsert(true),
	)
	return err
}

// ReplaceAll deletes then inserts. Standalone servers have no multi-document
// transactions, so a crash in between leaves a partial set.
func (s *mongoStore) ReplaceAll(ctx context.Context, records []Record) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	for _, r := range records {
		docs = append(docs, mongoRecord{Name: r.Name, Order: r.Order, Data: string(r.Data)})
	}
	_, err := s.coll.InsertMany(ctx, docs)
	return err
}

func (s *mongoStore) Delete(ctx context.Context, name string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": name})
	return err
}

func (s *mongoStore) All(ctx context.Context) ([]Record, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "order", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []Record
	for cur.Next(ctx) {
		var doc mongoRecord
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, Record{Name: doc.Name, Order: doc.Order, Data: []byte(doc.Data)})
	}
	return records, cur.Err()
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
