package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores objects in a single collection, one document per object,
// keyed by kind and logical id. The object body is kept as raw JSON so
// the schema stays with the Go types rather than with bson tags.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongo(ctx context.Context, uri, dbName, collName string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	coll := cli.Database(dbName).Collection(collName)

	_, _ = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return &Mongo{client: cli, coll: coll}, nil
}

func (m *Mongo) Save(ctx context.Context, obj Storable) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	// Upsert by logical key so saving an existing object replaces it.
	_, err = m.coll.UpdateOne(
		ctx,
		bson.M{"kind": obj.Kind(), "id": obj.StorageID()},
		bson.M{
			"$set": bson.M{
				"data":      raw,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) Get(ctx context.Context, dst Storable) error {
	var doc struct {
		Data []byte `bson:"data"`
	}
	err := m.coll.FindOne(ctx, bson.M{"kind": dst.Kind(), "id": dst.StorageID()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(doc.Data, dst)
}

func (m *Mongo) Delete(ctx context.Context, obj Storable) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"kind": obj.Kind(), "id": obj.StorageID()})
	return err
}

func (m *Mongo) List(ctx context.Context, kind string) ([][]byte, error) {
	cur, err := m.coll.Find(ctx, bson.M{"kind": kind})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out [][]byte
	for cur.Next(ctx) {
		var doc struct {
			Data []byte `bson:"data"`
		}
		if err := cur.Decode(&doc); err == nil {
			out = append(out, doc.Data)
		}
	}
	return out, cur.Err()
}

func (m *Mongo) Clear(ctx context.Context) error {
	_, err := m.coll.DeleteMany(ctx, bson.M{})
	return err
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
