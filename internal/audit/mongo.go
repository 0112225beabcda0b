package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const auditCollection = "audit_log"

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink appends entries to the audit_log collection.
type MongoSink struct {
	client *mongo.Client
	coll   inserter
	log    *zap.Logger
}

func NewMongoSink(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoSink, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect error: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping error: %w", err)
	}
	return &MongoSink{
		client: client,
		coll:   client.Database(database).Collection(auditCollection),
		log:    logger.Named("audit.mongo"),
	}, nil
}

func (m *MongoSink) Record(ctx context.Context, e Entry) error {
	if _, err := m.coll.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("mongodb insert error: %w", err)
	}
	m.log.Debug("audit entry stored", zap.String("id", e.ID), zap.String("action", e.Action))
	return nil
}

func (m *MongoSink) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
