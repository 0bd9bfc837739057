package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

// mongoDocument is the stored shape of a definition. The graph is kept as
// JSON text so node data round-trips with the same types JSON decoding
// produces (numbers as float64, nested maps as map[string]any).
type mongoDocument struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description,omitempty"`
	Version     int       `bson:"version"`
	Graph       string    `bson:"graph"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func toMongoDocument(def *workflow.Definition) (*mongoDocument, error) {
	graph, err := json.Marshal(def.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return &mongoDocument{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Version:     def.Version,
		Graph:       string(graph),
		CreatedAt:   def.CreatedAt,
		UpdatedAt:   def.UpdatedAt,
	}, nil
}

func (d *mongoDocument) toDefinition() (*workflow.Definition, error) {
	def := &workflow.Definition{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(d.Graph), &def.Data); err != nil {
		return nil, fmt.Errorf("decode graph of %s: %w", d.ID, err)
	}
	return def, nil
}

// MongoStore keeps definitions in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *zap.Logger
}

// MongoStoreOptions configures a MongoStore.
type MongoStoreOptions struct {
	URI        string
	Database   string
	Collection string
	// Timeout bounds each operation, 10s by default.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewMongoStore connects to MongoDB and pings the server.
func NewMongoStore(ctx context.Context, opts MongoStoreOptions) (*MongoStore, error) {
	if opts.URI == "" || opts.Database == "" {
		return nil, fmt.Errorf("%w: mongo uri and database are required", ErrInvalidInput)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	s := newMongoStore(client, opts)

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return s, nil
}

func newMongoStore(client *mongo.Client, opts MongoStoreOptions) *MongoStore {
	collection := opts.Collection
	if collection == "" {
		collection = "workflows"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(opts.Database).Collection(collection),
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "mongo_store")),
	}
}

func (s *MongoStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetWorkflowByID implements workflow.WorkflowLoader.
func (s *MongoStore) GetWorkflowByID(ctx context.Context, id string) (*workflow.Definition, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc mongoDocument
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return doc.toDefinition()
}

// List returns all definitions, most recently updated first.
func (s *MongoStore) List(ctx context.Context) ([]*workflow.Definition, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	var docs []mongoDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	out := make([]*workflow.Definition, 0, len(docs))
	for i := range docs {
		def, err := docs[i].toDefinition()
		if err != nil {
			s.logger.Warn("skipping unreadable workflow document", zap.String("id", docs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

// Save creates or replaces a definition.
func (s *MongoStore) Save(ctx context.Context, def *workflow.Definition) error {
	if def == nil {
		return ErrInvalidInput
	}

	var existing *workflow.Definition
	if def.ID != "" {
		prev, err := s.GetWorkflowByID(ctx, def.ID)
		switch {
		case err == nil:
			existing = prev
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	// Mongo keeps millisecond precision.
	if err := prepareSave(def, existing, time.Now().UTC().Truncate(time.Millisecond)); err != nil {
		return err
	}
	doc, err := toMongoDocument(def)
	if err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err = s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: def.ID}}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", def.ID, err)
	}
	return nil
}

// Delete removes a definition.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
