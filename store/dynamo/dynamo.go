// Package dynamo is the DynamoDB store adapter. It keeps items and their
// audit events in one table: both rows of a save go through a single
// TransactWriteItems call, create guards on key absence and update/delete on
// an ETag equality condition, so concurrency control rides on DynamoDB's
// conditional writes.
package dynamo

import (
	"context"
	stderrors "errors"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
	"itemstore/store/jsonval"
)

// A transaction carries two writes per row; DynamoDB caps transactions at
// 100 items.
const maxBatchRows = 50

// API is the DynamoDB surface the adapter uses. *dynamodb.Client satisfies
// it; tests substitute fakes.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config holds the adapter's table settings.
type Config struct {
	TableName string
}

// Store is the DynamoDB adapter.
type Store struct {
	client API
	config Config
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a structured logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a DynamoDB-backed store.
func New(client API, cfg Config, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New(errors.KindBadRequest, "dynamo: client is required")
	}
	if cfg.TableName == "" {
		return nil, errors.New(errors.KindBadRequest, "dynamo: table name is required")
	}
	s := &Store{client: client, config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

// ReadItem fetches the live document for (id, partitionKey). Tombstones and
// absent rows both surface as NotFound.
func (s *Store) ReadItem(ctx context.Context, id, partitionKey string) (item.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.TableName),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: partitionKey},
			attrSK: &types.AttributeValueMemberS{Value: itemSortKey(id)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, translate(err, "dynamo: get item")
	}
	if out.Item == nil {
		return nil, errors.Newf(errors.KindNotFound, "item %s not found in partition %s", id, partitionKey)
	}
	doc, err := decodeDoc(out.Item)
	if err != nil {
		return nil, err
	}
	if !jsonval.IsLive(doc) {
		return nil, errors.Newf(errors.KindNotFound, "item %s not found in partition %s", id, partitionKey)
	}
	return doc, nil
}

// SaveItem persists one (item, event) pair in a single transaction.
func (s *Store) SaveItem(ctx context.Context, req store.SaveRequest) (item.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	stored, writes, err := s.transactItems(req)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if stderrors.As(err, &canceled) {
			return nil, s.cancellationError(canceled, req)
		}
		return nil, translate(err, "dynamo: transact write")
	}
	s.logger.Debug("saved item",
		zap.String("id", req.ID),
		zap.String("partition_key", req.PartitionKey),
		zap.String("action", string(req.Action)))
	return stored, nil
}

// transactItems builds the two conditional writes for one request and
// returns the item document as it will be stored, ETag included.
func (s *Store) transactItems(req store.SaveRequest) (item.Document, []types.TransactWriteItem, error) {
	stored := req.Item.Clone()
	stored["_etag"] = mustJSON(uuid.NewString())
	event := req.Event.Clone()
	event["_etag"] = mustJSON(uuid.NewString())

	itemAV, err := encodeDoc(stored, req.PartitionKey, itemSortKey(req.ID))
	if err != nil {
		return nil, nil, err
	}
	eventAV, err := encodeDoc(event, req.PartitionKey, eventSortKey(jsonval.String(event, "id")))
	if err != nil {
		return nil, nil, err
	}

	itemPut := &types.Put{
		TableName: aws.String(s.config.TableName),
		Item:      itemAV,
	}
	switch req.Action {
	case store.ActionCreate:
		itemPut.ConditionExpression = aws.String("attribute_not_exists(pk)")
	case store.ActionUpdate, store.ActionDelete:
		itemPut.ConditionExpression = aws.String("attribute_exists(pk) AND #etag = :etag")
		itemPut.ExpressionAttributeNames = map[string]string{"#etag": "_etag"}
		itemPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":etag": &types.AttributeValueMemberS{Value: req.ETag},
		}
	default:
		return nil, nil, errors.Newf(errors.KindBadRequest, "unknown save action %q", req.Action)
	}

	writes := []types.TransactWriteItem{
		{Put: itemPut},
		{Put: &types.Put{TableName: aws.String(s.config.TableName), Item: eventAV}},
	}
	return stored, writes, nil
}

// cancellationError maps a single-save transaction cancellation. The item
// write is the first op, so its reason decides the outcome.
func (s *Store) cancellationError(canceled *types.TransactionCanceledException, req store.SaveRequest) error {
	for _, reason := range canceled.CancellationReasons {
		switch aws.ToString(reason.Code) {
		case reasonNone, "":
		case reasonConditionFailed:
			return conditionFailure(req.Action, req.ID)
		case reasonTransactConflict:
			return errors.Wrap(canceled, errors.KindConflict, "dynamo: concurrent transaction")
		case reasonThrottling, reasonCapacityExceeded:
			return errors.Wrap(canceled, errors.KindServiceUnavailable, "dynamo: transaction throttled")
		default:
			return translate(canceled, "dynamo: transact write")
		}
	}
	return translate(canceled, "dynamo: transact write")
}

// SaveBatch applies all requests as one transaction. DynamoDB enforces the
// all-or-nothing guarantee; a cancellation maps each row back to its own
// reason code.
func (s *Store) SaveBatch(ctx context.Context, partitionKey string, reqs []store.SaveRequest) ([]store.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	results := make([]store.BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}
	if len(reqs) > maxBatchRows {
		return nil, errors.Newf(errors.KindBadRequest,
			"batch of %d rows exceeds the %d-row transaction limit", len(reqs), maxBatchRows)
	}

	stored := make([]item.Document, len(reqs))
	writes := make([]types.TransactWriteItem, 0, len(reqs)*2)
	for i, req := range reqs {
		if req.PartitionKey != partitionKey {
			return rejectBatch(results, i, errors.Newf(errors.KindBadRequest,
				"row %d targets partition %s, batch is bound to %s", i, req.PartitionKey, partitionKey)), nil
		}
		doc, rowWrites, err := s.transactItems(req)
		if err != nil {
			return nil, err
		}
		stored[i] = doc
		writes = append(writes, rowWrites...)
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if stderrors.As(err, &canceled) && len(canceled.CancellationReasons) == len(writes) {
			return s.batchCancellation(results, reqs, canceled), nil
		}
		return nil, translate(err, "dynamo: transact write")
	}

	for i := range reqs {
		results[i] = store.BatchResult{StatusCode: 200, Item: stored[i]}
	}
	s.logger.Debug("saved batch",
		zap.String("partition_key", partitionKey),
		zap.Int("rows", len(reqs)))
	return results, nil
}

// batchCancellation maps per-op cancellation reasons back to rows. Each row
// owns two consecutive ops; the first row whose reason is not None is the
// failure, every other row reports FailedDependency.
func (s *Store) batchCancellation(results []store.BatchResult, reqs []store.SaveRequest, canceled *types.TransactionCanceledException) []store.BatchResult {
	failed := -1
	var cause error
	for op, reason := range canceled.CancellationReasons {
		code := aws.ToString(reason.Code)
		if code == reasonNone || code == "" {
			continue
		}
		row := op / 2
		switch code {
		case reasonConditionFailed:
			cause = conditionFailure(reqs[row].Action, reqs[row].ID)
		case reasonTransactConflict:
			cause = errors.Wrap(canceled, errors.KindConflict, "dynamo: concurrent transaction")
		case reasonThrottling, reasonCapacityExceeded:
			cause = errors.Wrap(canceled, errors.KindServiceUnavailable, "dynamo: transaction throttled")
		default:
			cause = translate(canceled, "dynamo: transact write")
		}
		failed = row
		break
	}
	if failed < 0 {
		cause = translate(canceled, "dynamo: transact write")
		failed = 0
	}
	return rejectBatch(results, failed, cause)
}

// rejectBatch fills the result slice for a rejected batch: the failing row
// carries its real status, every sibling FailedDependency. Nothing commits.
func rejectBatch(results []store.BatchResult, failed int, cause error) []store.BatchResult {
	for i := range results {
		if i == failed {
			results[i] = store.BatchResult{StatusCode: errors.StatusOf(cause), Err: cause}
			continue
		}
		results[i] = store.BatchResult{
			StatusCode: 424,
			Err:        errors.Newf(errors.KindFailedDependency, "row %d failed because row %d was rejected", i, failed),
		}
	}
	return results
}

// Query translates spec into a Query (partition-bound) or Scan
// (cross-partition) with a server-side filter expression. Ordering by an
// arbitrary stored field is not a DynamoDB capability, so ordered specs drain
// matching pages and sort client side; unordered specs stream pages lazily.
func (s *Store) Query(ctx context.Context, spec store.QuerySpec) (store.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}

	cond := expression.Name("typeName").Equal(expression.Value(spec.TypeName))
	if !spec.IncludeDeleted {
		alive := expression.Name("isDeleted").AttributeNotExists().
			Or(expression.Name("isDeleted").Equal(expression.Value(false)))
		cond = cond.And(alive)
	}
	if spec.Predicate != nil {
		pred, err := toCondition(spec.Predicate)
		if err != nil {
			return nil, err
		}
		cond = cond.And(pred)
	}

	var fetch pageFetcher
	if spec.PartitionKey != "" {
		keyCond := expression.Key(attrPK).Equal(expression.Value(spec.PartitionKey)).
			And(expression.KeyBeginsWith(expression.Key(attrSK), itemSortPrefix))
		built, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(cond).Build()
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "dynamo: build expression")
		}
		fetch = s.queryPage(built)
	} else {
		cond = cond.And(expression.Name(attrSK).BeginsWith(itemSortPrefix))
		built, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "dynamo: build expression")
		}
		fetch = s.scanPage(built)
	}

	if spec.OrderBy != "" {
		docs, err := drain(ctx, fetch)
		if err != nil {
			return nil, err
		}
		sortDocs(docs, spec.OrderBy, spec.Descending)
		docs = window(docs, spec.Skip, spec.Take)
		return &sliceIterator{docs: docs}, nil
	}
	return &pageIterator{fetch: fetch, skip: spec.Skip, remain: spec.Take}, nil
}

func (s *Store) queryPage(built expression.Expression) pageFetcher {
	return func(ctx context.Context, start map[string]types.AttributeValue) ([]item.Document, map[string]types.AttributeValue, error) {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.config.TableName),
			KeyConditionExpression:    built.KeyCondition(),
			FilterExpression:          built.Filter(),
			ExpressionAttributeNames:  built.Names(),
			ExpressionAttributeValues: built.Values(),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, nil, translate(err, "dynamo: query")
		}
		docs, err := decodePage(out.Items)
		if err != nil {
			return nil, nil, err
		}
		return docs, out.LastEvaluatedKey, nil
	}
}

func (s *Store) scanPage(built expression.Expression) pageFetcher {
	return func(ctx context.Context, start map[string]types.AttributeValue) ([]item.Document, map[string]types.AttributeValue, error) {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.config.TableName),
			FilterExpression:          built.Filter(),
			ExpressionAttributeNames:  built.Names(),
			ExpressionAttributeValues: built.Values(),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, nil, translate(err, "dynamo: scan")
		}
		docs, err := decodePage(out.Items)
		if err != nil {
			return nil, nil, err
		}
		return docs, out.LastEvaluatedKey, nil
	}
}

// Ping verifies the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.TableName),
	})
	return translate(err, "dynamo: describe table")
}

func decodePage(items []map[string]types.AttributeValue) ([]item.Document, error) {
	docs := make([]item.Document, 0, len(items))
	for _, av := range items {
		doc, err := decodeDoc(av)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func sortDocs(docs []item.Document, field string, descending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, _ := jsonval.Get(docs[i], field)
		b, _ := jsonval.Get(docs[j], field)
		cmp := jsonval.Compare(a, b)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

func window(docs []item.Document, skip, take int) []item.Document {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if take >= 0 && take < len(docs) {
		docs = docs[:take]
	}
	return docs
}

func drain(ctx context.Context, fetch pageFetcher) ([]item.Document, error) {
	var all []item.Document
	var start map[string]types.AttributeValue
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromContext(err)
		}
		docs, next, err := fetch(ctx, start)
		if err != nil {
			return nil, err
		}
		all = append(all, docs...)
		if next == nil {
			return all, nil
		}
		start = next
	}
}
