package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/repository/migrations"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoRepository(ctx context.Context, uri, dbName string) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to reach MongoDB: %w", err)
	}
	return newMongoRepository(client, client.Database(dbName).Collection(migrations.MongoCollection)), nil
}

func newMongoRepository(client *mongo.Client, coll *mongo.Collection) *MongoRepository {
	return &MongoRepository{client: client, coll: coll}
}

func (r *MongoRepository) Close() error {
	return r.client.Disconnect(context.Background())
}

func (r *MongoRepository) Migrate(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	log.Info().Msg("Starting MongoDB migrations")

	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "project_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "status_code", Value: 1}}},
	})
	if err != nil {
		log.Error().Err(err).Msg("MongoDB migrations failed")
		return fmt.Errorf("index creation error: %w", err)
	}

	log.Info().Msg("MongoDB migrations completed successfully")
	return nil
}

// SaveRecords inserts unordered so one duplicate id does not stop the batch.
func (r *MongoRepository) SaveRecords(ctx context.Context, records []*model.ArchivedRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(records))
	for _, rec := range records {
		docs = append(docs, toDocument(rec))
	}

	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicates(err) {
		return err
	}
	return nil
}

// toDocument embeds the payload as a sub document so it can be queried.
// Payloads that are not valid relaxed extended JSON (a captured body with a
// "$date" key, say) are stored as a string.
func toDocument(rec *model.ArchivedRecord) bson.D {
	var payload interface{}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(rec.Payload, false, &doc); err != nil {
		payload = string(rec.Payload)
	} else {
		payload = doc
	}
	return bson.D{
		{Key: "_id", Value: rec.ID},
		{Key: "project_id", Value: rec.ProjectID},
		{Key: "timestamp", Value: rec.Timestamp},
		{Key: "method", Value: rec.Method},
		{Key: "url", Value: rec.URL},
		{Key: "status_code", Value: rec.StatusCode},
		{Key: "load_time_us", Value: rec.LoadTimeUs},
		{Key: "payload", Value: payload},
	}
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}
