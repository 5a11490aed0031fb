package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/google/uuid"

	"datagate/internal/apierr"
	"datagate/internal/config"
	"datagate/internal/connstr"
	"datagate/internal/dialect"
	"datagate/internal/executor"
	"datagate/internal/metrics"
	"datagate/internal/request"
	"datagate/internal/sqlbuilder"
)

// Container is the item API of one Cosmos DB container.
type Container interface {
	Query(ctx context.Context, query string, params []azcosmos.QueryParameter, limit int) ([]map[string]any, error)
	Create(ctx context.Context, pk azcosmos.PartitionKey, item []byte) error
	Replace(ctx context.Context, pk azcosmos.PartitionKey, id string, item []byte) error
	Delete(ctx context.Context, pk azcosmos.PartitionKey, id string) error
}

// ContainerOpener resolves a container of a data source.
type ContainerOpener func(ctx context.Context, dataSource string, src config.DataSource, container string) (Container, error)

// CosmosEngine serves entities backed by Cosmos DB NoSQL containers.
type CosmosEngine struct {
	cfg     executor.ConfigSource
	open    ContainerOpener
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewCosmosEngine(cfg executor.ConfigSource, open ContainerOpener, m *metrics.Metrics, logger *slog.Logger) *CosmosEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CosmosEngine{cfg: cfg, open: open, metrics: m, logger: logger.With("component", "cosmos-engine")}
}

type document struct {
	ds           string
	container    Container
	partitionKey string
}

func (e *CosmosEngine) document(ctx context.Context, entity string) (document, error) {
	cfg, err := e.cfg.GetConfig()
	if err != nil {
		return document{}, err
	}
	name, ds, ok := cfg.DataSourceFor(entity)
	if !ok {
		return document{}, apierr.New(apierr.DataSourceNotFound, "No data source is configured for entity %s.", entity)
	}
	containerName := cfg.Entities[entity].Source.Object
	if containerName == "" {
		containerName = ds.Options.Container
	}
	c, err := e.open(ctx, name, ds, containerName)
	if err != nil {
		return document{}, err
	}
	pk := ds.Options.PartitionKey
	if pk == "" {
		pk = "id"
	}
	return document{ds: name, container: c, partitionKey: pk}, nil
}

func (e *CosmosEngine) Find(ctx context.Context, rc *request.FindRequestContext) (*Page, error) {
	doc, err := e.document(ctx, rc.Entity)
	if err != nil {
		return nil, err
	}
	requested := rc.Fields
	query := *rc
	if rc.IsMany && len(requested) > 0 {
		query.Fields = withCursorFields(requested, sqlbuilder.CursorFields(rc.Object, rc.OrderBy))
	}
	stmt, err := sqlbuilder.New(dialect.Cosmos).Select(&query)
	if err != nil {
		return nil, err
	}
	params := make([]azcosmos.QueryParameter, len(stmt.Args))
	for i, a := range stmt.Args {
		params[i] = azcosmos.QueryParameter{Name: dialect.Cosmos.Placeholder(i), Value: a}
	}
	limit := 0
	if rc.IsMany && rc.First > 0 {
		limit = rc.First + 1
	}
	rows, err := doc.container.Query(ctx, stmt.SQL, params, limit)
	e.metrics.DBQuery(doc.ds, err)
	if err != nil {
		return nil, classifyCosmos(err)
	}
	for i, row := range rows {
		rows[i] = project(row, nil)
	}
	return paginate(rows, &query, func(last map[string]any) request.Cursor {
		return sqlbuilder.NextCursor(rc.Object, rc.OrderBy, last)
	}, requested), nil
}

func (e *CosmosEngine) Execute(context.Context, *request.StoredProcedureRequestContext) ([]map[string]any, error) {
	return nil, apierr.New(apierr.NotSupported, "Stored procedures are not supported for Cosmos DB entities.")
}

func noPolicy(policies ...string) error {
	for _, p := range policies {
		if strings.TrimSpace(p) != "" {
			return apierr.New(apierr.NotSupported, "Database policies are not supported for Cosmos DB mutations.")
		}
	}
	return nil
}

func (e *CosmosEngine) Insert(ctx context.Context, rc *request.InsertRequestContext) (map[string]any, error) {
	if err := noPolicy(rc.DBPolicy); err != nil {
		return nil, err
	}
	doc, err := e.document(ctx, rc.Entity)
	if err != nil {
		return nil, err
	}
	item := clone(rc.Body)
	if id, _ := item["id"].(string); id == "" {
		item["id"] = uuid.NewString()
	}
	if err := e.write(ctx, doc, item, func(pk azcosmos.PartitionKey, b []byte) error {
		return doc.container.Create(ctx, pk, b)
	}); err != nil {
		return nil, err
	}
	return project(item, rc.Fields), nil
}

func (e *CosmosEngine) Upsert(ctx context.Context, rc *request.UpsertRequestContext) (map[string]any, bool, error) {
	if err := noPolicy(rc.DBPolicy, rc.InsertPolicy); err != nil {
		return nil, false, err
	}
	doc, err := e.document(ctx, rc.Entity)
	if err != nil {
		return nil, false, err
	}
	id := fmt.Sprint(rc.PrimaryKey["id"])
	existing, err := e.locate(ctx, doc, id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil && rc.UpdateOnly {
		return nil, false, apierr.New(apierr.ItemNotFound, "Could not find %s with id %s to update.", rc.Entity, id)
	}
	item := clone(rc.Body)
	if existing != nil && rc.Incremental {
		item = clone(existing)
		for k, v := range rc.Body {
			item[k] = v
		}
	}
	item["id"] = id
	if existing == nil {
		err = e.write(ctx, doc, item, func(pk azcosmos.PartitionKey, b []byte) error {
			return doc.container.Create(ctx, pk, b)
		})
	} else {
		err = e.write(ctx, doc, item, func(pk azcosmos.PartitionKey, b []byte) error {
			return doc.container.Replace(ctx, pk, id, b)
		})
	}
	if err != nil {
		return nil, false, err
	}
	return project(item, rc.Fields), existing == nil, nil
}

func (e *CosmosEngine) Delete(ctx context.Context, rc *request.DeleteRequestContext) error {
	if err := noPolicy(rc.DBPolicy); err != nil {
		return err
	}
	doc, err := e.document(ctx, rc.Entity)
	if err != nil {
		return err
	}
	id := fmt.Sprint(rc.PrimaryKey["id"])
	existing, err := e.locate(ctx, doc, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apierr.New(apierr.ItemNotFound, "Not Found")
	}
	pk, err := partitionKey(existing, doc.partitionKey)
	if err != nil {
		return err
	}
	err = doc.container.Delete(ctx, pk, id)
	e.metrics.DBQuery(doc.ds, err)
	return classifyCosmos(err)
}

// locate finds an item by id across partitions.
func (e *CosmosEngine) locate(ctx context.Context, doc document, id string) (map[string]any, error) {
	rows, err := doc.container.Query(ctx, `SELECT * FROM c WHERE c["id"] = @id`,
		[]azcosmos.QueryParameter{{Name: "@id", Value: id}}, 1)
	e.metrics.DBQuery(doc.ds, err)
	if err != nil {
		return nil, classifyCosmos(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (e *CosmosEngine) write(ctx context.Context, doc document, item map[string]any, fn func(azcosmos.PartitionKey, []byte) error) error {
	pk, err := partitionKey(item, doc.partitionKey)
	if err != nil {
		return err
	}
	b, err := json.Marshal(item)
	if err != nil {
		return apierr.Wrap(err, apierr.BadRequest, "Invalid request body.")
	}
	err = fn(pk, b)
	e.metrics.DBQuery(doc.ds, err)
	return classifyCosmos(err)
}

func partitionKey(item map[string]any, field string) (azcosmos.PartitionKey, error) {
	switch v := item[field].(type) {
	case string:
		return azcosmos.NewPartitionKeyString(v), nil
	case float64:
		return azcosmos.NewPartitionKeyNumber(v), nil
	case bool:
		return azcosmos.NewPartitionKeyBool(v), nil
	case nil:
		return azcosmos.NullPartitionKey, nil
	}
	return azcosmos.PartitionKey{}, apierr.New(apierr.BadRequest, "Invalid value for partition key field %s.", field)
}

// classifyCosmos maps service responses onto the error taxonomy.
func classifyCosmos(err error) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return err
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		switch re.StatusCode {
		case http.StatusNotFound:
			return apierr.Wrap(err, apierr.ItemNotFound, "Not Found")
		case http.StatusBadRequest:
			return apierr.Wrap(err, apierr.DatabaseInputError, "The request was rejected by the database: %s", re.ErrorCode)
		case http.StatusConflict:
			return apierr.Wrap(err, apierr.DatabaseInputError, "An item with the same id already exists.")
		}
	}
	return apierr.Wrap(err, apierr.DatabaseOperationFailed, apierr.GenericDBErrorMessage)
}

var systemProperties = map[string]bool{"_rid": true, "_self": true, "_etag": true, "_attachments": true, "_ts": true}

// project restricts item to fields, or drops system properties when no
// fields are named.
func project(item map[string]any, fields []string) map[string]any {
	out := map[string]any{}
	if len(fields) == 0 {
		for k, v := range item {
			if !systemProperties[k] {
				out[k] = v
			}
		}
		return out
	}
	for _, f := range fields {
		if v, ok := item[f]; ok {
			out[f] = v
		}
	}
	return out
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clients opens Cosmos DB containers through cached account clients. Key
// based connection strings use the key; anything else authenticates with
// a token from the shared cache.
type Clients struct {
	tokens *executor.Tokens

	mu      sync.RWMutex
	clients map[string]*azcosmos.Client
}

func NewClients(tokens *executor.Tokens) *Clients {
	return &Clients{tokens: tokens, clients: map[string]*azcosmos.Client{}}
}

// Open is a ContainerOpener.
func (c *Clients) Open(_ context.Context, dataSource string, src config.DataSource, container string) (Container, error) {
	client, err := c.client(dataSource, src)
	if err != nil {
		return nil, err
	}
	if src.Options.Database == "" {
		return nil, apierr.New(apierr.ConfigValidationError, "Cosmos DB data source %s requires options.database.", dataSource)
	}
	cc, err := client.NewContainer(src.Options.Database, container)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Cannot open container %s.", container)
	}
	return cosmosContainer{c: cc}, nil
}

func (c *Clients) client(name string, src config.DataSource) (*azcosmos.Client, error) {
	c.mu.RLock()
	client, ok := c.clients[name]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[name]; ok {
		return client, nil
	}
	kv := connstr.Parse(src.ConnectionString)
	var err error
	if connstr.HasAny(kv, "accountkey") {
		client, err = azcosmos.NewClientFromConnectionString(src.ConnectionString, nil)
	} else {
		endpoint := connstr.Get(kv, "accountendpoint")
		if endpoint == "" {
			return nil, apierr.New(apierr.ErrorInInitialization, "Cosmos DB data source %s has no AccountEndpoint.", name)
		}
		client, err = azcosmos.NewClient(endpoint, c.tokens.Credential(name, src.AccessToken), nil)
	}
	if err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Cannot create Cosmos DB client for %s.", name)
	}
	c.clients[name] = client
	return client, nil
}

type cosmosContainer struct {
	c *azcosmos.ContainerClient
}

func (c cosmosContainer) Query(ctx context.Context, query string, params []azcosmos.QueryParameter, limit int) ([]map[string]any, error) {
	opts := &azcosmos.QueryOptions{QueryParameters: params}
	if limit > 0 {
		opts.PageSizeHint = int32(limit)
	}
	pager := c.c.NewQueryItemsPager(query, azcosmos.NewPartitionKey(), opts)
	out := []map[string]any{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Items {
			var item map[string]any
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("decode item: %w", err)
			}
			out = append(out, item)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (c cosmosContainer) Create(ctx context.Context, pk azcosmos.PartitionKey, item []byte) error {
	_, err := c.c.CreateItem(ctx, pk, item, nil)
	return err
}

func (c cosmosContainer) Replace(ctx context.Context, pk azcosmos.PartitionKey, id string, item []byte) error {
	_, err := c.c.ReplaceItem(ctx, pk, id, item, nil)
	return err
}

func (c cosmosContainer) Delete(ctx context.Context, pk azcosmos.PartitionKey, id string) error {
	_, err := c.c.DeleteItem(ctx, pk, id, nil)
	return err
}
