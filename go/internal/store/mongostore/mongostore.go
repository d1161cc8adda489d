// Package mongostore keeps documents in a MongoDB collection and uses
// multi-document transactions plus per-document version checks. It needs
// a replica set for both transactions and change streams.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mcdev12/jemima/go/internal/changefeed"
	"github.com/mcdev12/jemima/go/internal/store"
)

const collectionName = "documents"

var errStale = errors.New("stale document version")

type record struct {
	ID        string    `bson:"_id"`
	Body      bson.D    `bson:"body"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type Store struct {
	client      *mongo.Client
	coll        *mongo.Collection
	maxAttempts int
}

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client, database), nil
}

func New(client *mongo.Client, database string) *Store {
	return &Store{
		client:      client,
		coll:        client.Database(database).Collection(collectionName),
		maxAttempts: store.DefaultMaxAttempts,
	}
}

// EnsureIndexes creates the updatedAt index used by ChangedSince.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "updatedAt", Value: 1}}})
	if err != nil {
		return fmt.Errorf("create updatedAt index: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Snapshot, error) {
	return s.get(ctx, key)
}

func (s *Store) get(ctx context.Context, key string) (store.Snapshot, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Snapshot{Key: key}, nil
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("find %s: %w", key, err)
	}
	data, err := decodeBody(rec.Body)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return store.Snapshot{Key: key, Data: data, Exists: true, Version: rec.Version}, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.attempt(ctx, fn)
		if !errors.Is(err, errStale) {
			return err
		}
		log.Debug().Int("attempt", attempt+1).Msg("mongo transaction stale, retrying")
	}
	return store.ErrConflict
}

func (s *Store) attempt(ctx context.Context, fn store.TxFunc) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		tx := &txn{store: s, reads: make(map[string]int64), writes: make(map[string][]byte)}
		if err := fn(sc, tx); err != nil {
			return nil, err
		}
		return nil, s.flush(sc, tx)
	})
	return err
}

func (s *Store) flush(ctx context.Context, tx *txn) error {
	now := time.Now().UTC()
	for _, key := range tx.order {
		body, err := encodeBody(tx.writes[key])
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		version, read := tx.reads[key]
		switch {
		case !read:
			_, err = s.coll.UpdateOne(ctx,
				bson.D{{Key: "_id", Value: key}},
				bson.D{
					{Key: "$set", Value: bson.D{{Key: "body", Value: body}, {Key: "updatedAt", Value: now}}},
					{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
				},
				options.Update().SetUpsert(true))
		case version == 0:
			_, err = s.coll.InsertOne(ctx, record{ID: key, Body: body, Version: 1, UpdatedAt: now})
			if mongo.IsDuplicateKeyError(err) {
				return errStale
			}
		default:
			var res *mongo.UpdateResult
			res, err = s.coll.UpdateOne(ctx,
				bson.D{{Key: "_id", Value: key}, {Key: "version", Value: version}},
				bson.D{
					{Key: "$set", Value: bson.D{{Key: "body", Value: body}, {Key: "updatedAt", Value: now}}},
					{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
				})
			if err == nil && res.MatchedCount == 0 {
				return errStale
			}
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	return nil
}

// Subscribe watches key through a change stream and re-reads it on every
// event, skipping versions already delivered.
func (s *Store) Subscribe(ctx context.Context, key string) (<-chan store.Snapshot, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: key}}}}}
	stream, err := s.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}
	first, err := s.get(ctx, key)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}

	out := make(chan store.Snapshot, 1)
	out <- first
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		last := first.Version
		for stream.Next(ctx) {
			snap, err := s.get(ctx, key)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("subscription re-read failed")
				continue
			}
			if snap.Version == last {
				continue
			}
			last = snap.Version
			select {
			case <-out:
			default:
			}
			out <- snap
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("key", key).Msg("change stream ended")
		}
	}()
	return out, nil
}

// ChangedSince lists documents touched at or after since.
func (s *Store) ChangedSince(ctx context.Context, since time.Time, limit int) ([]changefeed.Change, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.D{{Key: "version", Value: 1}, {Key: "updatedAt", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.D{{Key: "updatedAt", Value: bson.D{{Key: "$gte", Value: since}}}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer cur.Close(ctx)

	var changes []changefeed.Change
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode change: %w", err)
		}
		changes = append(changes, changefeed.Change{Key: rec.ID, Version: rec.Version, At: rec.UpdatedAt})
	}
	return changes, cur.Err()
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

type txn struct {
	store  *Store
	reads  map[string]int64
	writes map[string][]byte
	order  []string
}

func (t *txn) Get(ctx context.Context, key string) (store.Snapshot, error) {
	if data, ok := t.writes[key]; ok {
		return store.Snapshot{Key: key, Data: data, Exists: true}, nil
	}
	snap, err := t.store.get(ctx, key)
	if err != nil {
		return snap, err
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = snap.Version
	}
	return snap, nil
}

func (t *txn) Set(key string, data []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = data
}

// encodeBody converts a JSON document into BSON so it stays queryable.
func encodeBody(data []byte) (bson.D, error) {
	var body bson.D
	if err := bson.UnmarshalExtJSON(data, false, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func decodeBody(body bson.D) ([]byte, error) {
	if body == nil {
		body = bson.D{}
	}
	return bson.MarshalExtJSON(body, false, false)
}

var (
	_ store.Store       = (*Store)(nil)
	_ changefeed.Source = (*Store)(nil)
)
