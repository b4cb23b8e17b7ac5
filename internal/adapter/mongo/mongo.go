// Package mongo implements adapter.Adapter against a MongoDB datasource,
// grounded on common/mmongo/mongo.go's MongoConnection: a *mongo.Client held
// for the adapter's lifetime, Ping-verified at construction.
//
// Mongo has no SQL dialect, so "query" here is a small JSON document
// (collection/filter/limit) the Generator stage produces instead of SQL text
// when targeting a mongo-capable datasource — the same capability-flag
// branch (PlaceholderFormat "none") that lets the Generator skip SQL
// placeholder substitution entirely for this dialect.
package mongo

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lerianstudio/nl2sql/internal/adapter"
	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/telemetry"
)

// Adapter wraps a *mongo.Client for one named datasource/database.
type Adapter struct {
	name     string
	client   *mongo.Client
	database string
}

// New connects to uri and selects database, returning a ready Adapter named
// name.
func New(ctx context.Context, name, uri, database string) (*Adapter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable,
			"failed to connect to mongo datasource "+name, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable,
			"mongo datasource "+name+" is unreachable", err)
	}

	return &Adapter{name: name, client: client, database: database}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Dialect:             adapter.DialectMongo,
		SupportsLimitOffset: true,
		PlaceholderFormat:   "none",
	}
}

// docQuery is the JSON shape "query" must unmarshal into for this adapter.
type docQuery struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter"`
	Limit      int64          `json:"limit"`
}

func parseQuery(query string) (docQuery, error) {
	var q docQuery
	if err := json.Unmarshal([]byte(query), &q); err != nil {
		return docQuery{}, pipelineerr.Wrap(pipelineerr.CodeMissingSQL,
			"mongo adapter query must be a JSON document with collection/filter/limit", err)
	}

	if q.Collection == "" {
		return docQuery{}, pipelineerr.New(pipelineerr.CodeMissingSQL, "mongo query document is missing \"collection\"")
	}

	return q, nil
}

// DryRun validates the query document parses and the target collection
// exists, without running the filter.
func (a *Adapter) DryRun(ctx context.Context, query string, args []any) error {
	q, err := parseQuery(query)
	if err != nil {
		return err
	}

	names, err := a.client.Database(a.database).ListCollectionNames(ctx, bson.M{"name": q.Collection})
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.CodeDryRunFailed, "failed to list collections for "+a.name, err)
	}

	if len(names) == 0 {
		return pipelineerr.New(pipelineerr.CodeDryRunFailed, "collection "+q.Collection+" does not exist")
	}

	return nil
}

// Execute runs the filter document against its target collection.
func (a *Adapter) Execute(ctx context.Context, query string, args []any) ([]adapter.Row, error) {
	ctx, span := telemetry.TracerFromContext(ctx).Start(ctx, "mongo.execute")
	defer span.End()

	q, err := parseQuery(query)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := a.client.Database(a.database).Collection(q.Collection).Find(ctx, q.Filter, opts)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeExecutionFailed,
			fmt.Sprintf("mongo find against %s.%s failed", a.name, q.Collection), err)
	}

	defer cursor.Close(ctx)

	out := make([]adapter.Row, 0)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, pipelineerr.Wrap(pipelineerr.CodeExecutionFailed, "failed to decode mongo document", err)
		}

		row := make(adapter.Row, len(doc))
		for k, v := range doc {
			row[k] = v
		}

		out = append(out, row)
	}

	if err := cursor.Err(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.CodeExecutionFailed, "mongo cursor error", err)
	}

	return out, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx, nil); err != nil {
		return pipelineerr.Wrap(pipelineerr.CodeAdapterUnavailable, "mongo datasource "+a.name+" ping failed", err)
	}

	return nil
}

func (a *Adapter) Close() error {
	return a.client.Disconnect(context.Background())
}
