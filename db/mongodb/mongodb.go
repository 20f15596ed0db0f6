// Package mongodb implements db.Database as a key-value collection in
// MongoDB. Keys are stored hex encoded in _id so that the string order of the
// ids matches the byte order of the keys. Commits run as multi-document
// transactions, so the server must be a replica set or a sharded cluster.
package mongodb

import (
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/internal/txbuf"
	"github.com/vocdoni/anonvote-node/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	collectionName = "kv"
	opTimeout      = 10 * time.Second

	transientTransactionLabel = "TransientTransactionError"
	writeConflictCode         = 112
)

type document struct {
	ID    string `bson:"_id"`
	Value []byte `bson:"value"`
}

// MongoDB keeps all keys of one database in a single collection. Commits are
// serialized within the process and isolated from other processes by the
// server transaction.
type MongoDB struct {
	client   *mongo.Client
	coll     *mongo.Collection
	commitMu sync.Mutex
	// afterWrite runs inside the commit transaction once the writes are
	// applied. An error aborts the transaction. Only set by tests.
	afterWrite func() error
}

var _ db.Database = (*MongoDB)(nil)

// New connects to opts.MongoURL (or $MONGODB_URL) and uses opts.Path as the
// database name.
func New(opts db.Options) (*MongoDB, error) {
	url := cmp.Or(opts.MongoURL, os.Getenv("MONGODB_URL"))
	if url == "" {
		return nil, fmt.Errorf("mongodb url not provided")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("mongodb database name not provided")
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	if err := checkTransactions(ctx, client); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	log.Debugw("connected to mongodb", "database", opts.Path)
	return &MongoDB{
		client: client,
		coll:   client.Database(opts.Path).Collection(collectionName),
	}, nil
}

// checkTransactions fails on standalone servers, which reject multi-document
// transactions.
func checkTransactions(ctx context.Context, client *mongo.Client) error {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return fmt.Errorf("mongodb hello: %w", err)
	}
	if hello.SetName == "" && hello.Msg != "isdbgrid" {
		return fmt.Errorf("mongodb must be a replica set or a sharded cluster to run transactions")
	}
	return nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := d.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return err
	}
	return nil
}

func (d *MongoDB) Compact() error {
	return nil
}

func (d *MongoDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return d.get(ctx, key)
}

func (d *MongoDB) get(ctx context.Context, key []byte) ([]byte, error) {
	var doc document
	err := d.coll.FindOne(ctx, bson.M{"_id": hex.EncodeToString(key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (d *MongoDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	idRange := bson.M{"$gte": hex.EncodeToString(prefix)}
	if end := db.PrefixEnd(prefix); end != nil {
		idRange["$lt"] = hex.EncodeToString(end)
	}
	cursor, err := d.coll.Find(ctx, bson.M{"_id": idRange},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	defer func() { _ = cursor.Close(ctx) }()
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		key, err := hex.DecodeString(doc.ID)
		if err != nil {
			return fmt.Errorf("invalid key %q: %w", doc.ID, err)
		}
		if !callback(key[len(prefix):], doc.Value) {
			break
		}
	}
	return cursor.Err()
}

func (d *MongoDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, buf: txbuf.New()}
}

// WriteTx buffers writes and flushes them in a transaction on Commit.
type WriteTx struct {
	db  *MongoDB
	buf *txbuf.Buffer
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	return tx.buf.Get(key, tx.db.Get)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return tx.buf.Iterate(prefix, tx.db.Iterate, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	return tx.buf.Set(key, value)
}

func (tx *WriteTx) Delete(key []byte) error {
	return tx.buf.Delete(key)
}

// Commit validates the read set and applies the writes inside one server
// transaction. Reads are validated against the transaction snapshot, and a
// concurrent write to any written key aborts the transaction, so nothing is
// applied unless everything is. Conflicts are reported as db.ErrConflict.
func (tx *WriteTx) Commit() error {
	if tx.buf.Done() {
		return db.ErrTxDone
	}
	defer tx.buf.Finish()
	var models []mongo.WriteModel
	if err := tx.buf.Writes(func(key, value []byte) error {
		id := hex.EncodeToString(key)
		if value == nil {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
			return nil
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(document{ID: id, Value: value}).
			SetUpsert(true))
		return nil
	}); err != nil {
		return err
	}

	tx.db.commitMu.Lock()
	defer tx.db.commitMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	session, err := tx.db.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongodb session: %w", err)
	}
	defer session.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if err := tx.buf.Validate(func(key []byte) ([]byte, error) {
			return tx.db.get(sc, key)
		}); err != nil {
			return nil, err
		}
		if len(models) > 0 {
			if _, err := tx.db.coll.BulkWrite(sc, models, options.BulkWrite().SetOrdered(true)); err != nil {
				return nil, err
			}
		}
		if tx.db.afterWrite != nil {
			if err := tx.db.afterWrite(); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, txOpts)
	return commitError(err)
}

// commitError maps transaction conflicts to db.ErrConflict so callers can
// retry.
func commitError(err error) error {
	if err == nil || errors.Is(err, db.ErrConflict) {
		return err
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel(transientTransactionLabel) || se.HasErrorCode(writeConflictCode)) {
		return fmt.Errorf("%w: %v", db.ErrConflict, err)
	}
	return err
}

func (tx *WriteTx) Discard() {
	tx.buf.Finish()
}
