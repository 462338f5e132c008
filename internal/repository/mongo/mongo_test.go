package mongo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuncerburak97/gozcu/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func archived(id, payload string) *model.ArchivedRecord {
	return &model.ArchivedRecord{
		ID:         id,
		ProjectID:  "proj",
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Method:     "GET",
		URL:        "http://svc/ping",
		StatusCode: 200,
		LoadTimeUs: 1500,
		Payload:    json.RawMessage(payload),
	}
}

func TestToDocument(t *testing.T) {
	doc := toDocument(archived("a1", `{"api_key":"k","data":{"request":{"method":"GET"}}}`))
	m := doc.Map()

	assert.Equal(t, "a1", m["_id"])
	assert.Equal(t, 200, m["status_code"])
	payload, ok := m["payload"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "k", payload["api_key"])

	doc = toDocument(archived("a2", `{"body":{"$date":"not a date"}}`))
	assert.IsType(t, "", doc.Map()["payload"])
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("save records", func(mt *mtest.T) {
		repo := newMongoRepository(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := repo.SaveRecords(context.Background(), []*model.ArchivedRecord{
			archived("a1", `{}`),
			archived("a2", `{}`),
		})
		require.NoError(t, err)

		started := mt.GetStartedEvent()
		require.NotNil(t, started)
		assert.Equal(t, "insert", started.CommandName)
	})

	mt.Run("empty batch is a no-op", func(mt *mtest.T) {
		repo := newMongoRepository(mt.Client, mt.Coll)
		require.NoError(t, repo.SaveRecords(context.Background(), nil))
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("duplicate ids are ignored", func(mt *mtest.T) {
		repo := newMongoRepository(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := repo.SaveRecords(context.Background(), []*model.ArchivedRecord{archived("a1", `{}`)})
		assert.NoError(t, err)
	})

	mt.Run("other write errors surface", func(mt *mtest.T) {
		repo := newMongoRepository(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    121,
			Message: "document failed validation",
		}))

		err := repo.SaveRecords(context.Background(), []*model.ArchivedRecord{archived("a1", `{}`)})
		require.Error(t, err)
		var bwe mongo.BulkWriteException
		assert.ErrorAs(t, err, &bwe)
	})

	mt.Run("migrate creates indexes", func(mt *mtest.T) {
		repo := newMongoRepository(mt.Client, mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(t, repo.Migrate(context.Background()))
		assert.Equal(t, "createIndexes", mt.GetStartedEvent().CommandName)
	})
}
