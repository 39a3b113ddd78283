package featurepool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoFeature is the stored document: one collection per layer, the geometry
// kept as a GeoJSON sub-document.
type mongoFeature struct {
	ID         int64                  `bson:"_id"`
	Geometry   bson.Raw               `bson:"geometry,omitempty"`
	Properties map[string]interface{} `bson:"properties,omitempty"`
}

// ConnectMongo dials uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// MongoPool is a Pool over one collection.
type MongoPool struct {
	layer  string
	coll   *mongo.Collection
	logger logging.Logger
}

func NewMongoPool(client *mongo.Client, database, layer string, logger logging.Logger) *MongoPool {
	if logger == nil {
		logger = logging.Noop()
	}
	return &MongoPool{
		layer:  layer,
		coll:   client.Database(database).Collection(layer),
		logger: logger,
	}
}

func (p *MongoPool) LayerID() string { return p.layer }

func (p *MongoPool) IDs(ctx context.Context) ([]int64, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1})
	cur, err := p.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list features of %s: %w", p.layer, err)
	}
	defer cur.Close(ctx)

	var ids []int64
	for cur.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func (p *MongoPool) Get(ctx context.Context, id int64) (*Feature, bool) {
	var doc mongoFeature
	err := p.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false
	}
	if err != nil {
		p.logger.Warn(ctx, "failed to read feature",
			logging.String("layer", p.layer), logging.Int64("feature", id), logging.Err(err))
		return nil, false
	}
	f, err := featureFromDocument(doc)
	if err != nil {
		p.logger.Warn(ctx, "failed to decode feature",
			logging.String("layer", p.layer), logging.Int64("feature", id), logging.Err(err))
		return nil, false
	}
	return f, true
}

func (p *MongoPool) Update(ctx context.Context, f *Feature) error {
	geomDoc, err := geometryToBSON(f.Geometry)
	if err != nil {
		return fmt.Errorf("feature %d: %w", f.ID, err)
	}
	res, err := p.coll.UpdateOne(ctx, bson.M{"_id": f.ID}, bson.M{"$set": bson.M{"geometry": geomDoc}})
	if err != nil {
		return fmt.Errorf("failed to update feature %d: %w", f.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update feature %d in %s: %w", f.ID, p.layer, ErrNotFound)
	}
	return nil
}

// Insert adds or replaces a feature.
func (p *MongoPool) Insert(ctx context.Context, f *Feature) error {
	doc, err := documentFromFeature(f)
	if err != nil {
		return err
	}
	_, err = p.coll.ReplaceOne(ctx, bson.M{"_id": f.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to insert feature %d: %w", f.ID, err)
	}
	return nil
}

func documentFromFeature(f *Feature) (mongoFeature, error) {
	geomDoc, err := geometryToBSON(f.Geometry)
	if err != nil {
		return mongoFeature{}, fmt.Errorf("feature %d: %w", f.ID, err)
	}
	return mongoFeature{ID: f.ID, Geometry: geomDoc, Properties: f.Properties}, nil
}

func featureFromDocument(doc mongoFeature) (*Feature, error) {
	g, err := geometryFromBSON(doc.Geometry)
	if err != nil {
		return nil, err
	}
	return &Feature{ID: doc.ID, Geometry: g, Properties: doc.Properties}, nil
}

// geometryToBSON stores the GeoJSON form so the collection stays usable with
// a 2dsphere index.
func geometryToBSON(g *geometry.Geometry) (bson.Raw, error) {
	if g == nil {
		return nil, nil
	}
	data, err := EncodeGeoJSONGeometry(g, -1)
	if err != nil {
		return nil, err
	}
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &raw); err != nil {
		return nil, fmt.Errorf("failed to convert geometry to bson: %w", err)
	}
	return raw, nil
}

func geometryFromBSON(raw bson.Raw) (*geometry.Geometry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert geometry from bson: %w", err)
	}
	return DecodeGeoJSONGeometry(data)
}

// MongoLayers lists the collections of database, one per layer.
func MongoLayers(ctx context.Context, client *mongo.Client, database string) ([]string, error) {
	names, err := client.Database(database).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
