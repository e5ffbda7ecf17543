package dynamo_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemstore/expr"
	"itemstore/item"
	"itemstore/pkg/errors"
	"itemstore/store"
	"itemstore/store/dynamo"
)

// fakeAPI is a scripted DynamoDB client recording the inputs it receives.
type fakeAPI struct {
	getOut      *awsdynamodb.GetItemOutput
	getErr      error
	transactErr error
	transacts   []*awsdynamodb.TransactWriteItemsInput
	queryPages  []*awsdynamodb.QueryOutput
	scanPages   []*awsdynamodb.ScanOutput
	scanCalls   int
}

func (f *fakeAPI) GetItem(ctx context.Context, in *awsdynamodb.GetItemInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getOut != nil {
		return f.getOut, nil
	}
	return &awsdynamodb.GetItemOutput{}, nil
}

func (f *fakeAPI) TransactWriteItems(ctx context.Context, in *awsdynamodb.TransactWriteItemsInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.TransactWriteItemsOutput, error) {
	f.transacts = append(f.transacts, in)
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	return &awsdynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) Query(ctx context.Context, in *awsdynamodb.QueryInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.QueryOutput, error) {
	if len(f.queryPages) == 0 {
		return &awsdynamodb.QueryOutput{}, nil
	}
	page := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return page, nil
}

func (f *fakeAPI) Scan(ctx context.Context, in *awsdynamodb.ScanInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.ScanOutput, error) {
	f.scanCalls++
	if len(f.scanPages) == 0 {
		return &awsdynamodb.ScanOutput{}, nil
	}
	page := f.scanPages[0]
	f.scanPages = f.scanPages[1:]
	return page, nil
}

func (f *fakeAPI) DescribeTable(ctx context.Context, in *awsdynamodb.DescribeTableInput, _ ...func(*awsdynamodb.Options)) (*awsdynamodb.DescribeTableOutput, error) {
	return &awsdynamodb.DescribeTableOutput{}, nil
}

func newStore(t *testing.T, api *fakeAPI) *dynamo.Store {
	t.Helper()
	s, err := dynamo.New(api, dynamo.Config{TableName: "items"})
	require.NoError(t, err)
	return s
}

func doc(fields map[string]any) item.Document {
	d := item.Document{}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		d[k] = raw
	}
	return d
}

func av(t *testing.T, fields map[string]any) map[string]types.AttributeValue {
	t.Helper()
	out, err := attributevalue.MarshalMap(fields)
	require.NoError(t, err)
	return out
}

func saveReq(id, pk string, action store.Action, etag string) store.SaveRequest {
	return store.SaveRequest{
		ID:           id,
		PartitionKey: pk,
		TypeName:     "task",
		ETag:         etag,
		Item:         doc(map[string]any{"id": id, "partitionKey": pk, "typeName": "task", "title": "x"}),
		Event:        doc(map[string]any{"id": "ev-" + id, "partitionKey": pk, "typeName": "event", "relatedId": id}),
		Action:       action,
	}
}

func TestSaveItemWritesItemAndEventTransactionally(t *testing.T) {
	api := &fakeAPI{}
	s := newStore(t, api)

	stored, err := s.SaveItem(context.Background(), saveReq("t1", "p1", store.ActionCreate, ""))
	require.NoError(t, err)

	// The adapter issues the version token.
	var etag string
	require.NoError(t, json.Unmarshal(stored["_etag"], &etag))
	assert.NotEmpty(t, etag)

	require.Len(t, api.transacts, 1)
	writes := api.transacts[0].TransactItems
	require.Len(t, writes, 2)

	itemPut := writes[0].Put
	require.NotNil(t, itemPut)
	assert.Equal(t, "attribute_not_exists(pk)", aws.ToString(itemPut.ConditionExpression))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "p1"}, itemPut.Item["pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "item#t1"}, itemPut.Item["sk"])

	eventPut := writes[1].Put
	require.NotNil(t, eventPut)
	assert.Nil(t, eventPut.ConditionExpression)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "event#ev-t1"}, eventPut.Item["sk"])
}

func TestSaveItemUpdateGuardsOnETag(t *testing.T) {
	api := &fakeAPI{}
	s := newStore(t, api)

	_, err := s.SaveItem(context.Background(), saveReq("t1", "p1", store.ActionUpdate, "v1"))
	require.NoError(t, err)

	itemPut := api.transacts[0].TransactItems[0].Put
	assert.Equal(t, "attribute_exists(pk) AND #etag = :etag", aws.ToString(itemPut.ConditionExpression))
	assert.Equal(t, "_etag", itemPut.ExpressionAttributeNames["#etag"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "v1"}, itemPut.ExpressionAttributeValues[":etag"])
}

func canceled(codes ...string) *types.TransactionCanceledException {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestSaveItemConditionFailures(t *testing.T) {
	t.Run("create collision is a conflict", func(t *testing.T) {
		api := &fakeAPI{transactErr: canceled("ConditionalCheckFailed", "None")}
		s := newStore(t, api)

		_, err := s.SaveItem(context.Background(), saveReq("t1", "p1", store.ActionCreate, ""))
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("update loses compare and swap", func(t *testing.T) {
		api := &fakeAPI{transactErr: canceled("ConditionalCheckFailed", "None")}
		s := newStore(t, api)

		_, err := s.SaveItem(context.Background(), saveReq("t1", "p1", store.ActionUpdate, "stale"))
		assert.True(t, errors.IsPreconditionFailed(err))
	})

	t.Run("throttled transaction is unavailable", func(t *testing.T) {
		api := &fakeAPI{transactErr: canceled("ThrottlingError", "None")}
		s := newStore(t, api)

		_, err := s.SaveItem(context.Background(), saveReq("t1", "p1", store.ActionCreate, ""))
		assert.True(t, errors.IsUnavailable(err))
	})
}

func TestReadItem(t *testing.T) {
	t.Run("decodes stored documents", func(t *testing.T) {
		api := &fakeAPI{getOut: &awsdynamodb.GetItemOutput{Item: av(t, map[string]any{
			"pk": "p1", "sk": "item#t1", "id": "t1", "title": "hello", "_etag": "v1",
		})}}
		s := newStore(t, api)

		got, err := s.ReadItem(context.Background(), "t1", "p1")
		require.NoError(t, err)
		assert.JSONEq(t, `"hello"`, string(got["title"]))
		// Table keys never leak into documents.
		_, hasPK := got["pk"]
		assert.False(t, hasPK)
	})

	t.Run("absent row is not found", func(t *testing.T) {
		s := newStore(t, &fakeAPI{})
		_, err := s.ReadItem(context.Background(), "ghost", "p1")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("tombstone reads as absent", func(t *testing.T) {
		api := &fakeAPI{getOut: &awsdynamodb.GetItemOutput{Item: av(t, map[string]any{
			"pk": "p1", "sk": "item#t1", "id": "t1", "isDeleted": true,
		})}}
		s := newStore(t, api)
		_, err := s.ReadItem(context.Background(), "t1", "p1")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestSaveBatchMapsCancellationReasonsToRows(t *testing.T) {
	// Two rows, two ops each; the second row's item write failed its guard.
	api := &fakeAPI{transactErr: canceled("None", "None", "ConditionalCheckFailed", "None")}
	s := newStore(t, api)

	reqs := []store.SaveRequest{
		saveReq("a", "p1", store.ActionCreate, ""),
		saveReq("b", "p1", store.ActionUpdate, "stale"),
	}
	results, err := s.SaveBatch(context.Background(), "p1", reqs)
	require.NoError(t, err)

	assert.Equal(t, 424, results[0].StatusCode)
	assert.True(t, errors.IsFailedDependency(results[0].Err))
	assert.Equal(t, 412, results[1].StatusCode)
	assert.True(t, errors.IsPreconditionFailed(results[1].Err))
}

func TestSaveBatchSuccess(t *testing.T) {
	api := &fakeAPI{}
	s := newStore(t, api)

	results, err := s.SaveBatch(context.Background(), "p1", []store.SaveRequest{
		saveReq("a", "p1", store.ActionCreate, ""),
		saveReq("b", "p1", store.ActionCreate, ""),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, 200, r.StatusCode)
		assert.NotNil(t, r.Item["_etag"])
	}
	// One transaction carries all four writes.
	require.Len(t, api.transacts, 1)
	assert.Len(t, api.transacts[0].TransactItems, 4)
}

func TestSaveBatchEnforcesRowLimit(t *testing.T) {
	s := newStore(t, &fakeAPI{})
	reqs := make([]store.SaveRequest, 51)
	for i := range reqs {
		reqs[i] = saveReq("t", "p1", store.ActionCreate, "")
	}
	_, err := s.SaveBatch(context.Background(), "p1", reqs)
	assert.True(t, errors.IsBadRequest(err))
}

func queryPage(t *testing.T, lastKey map[string]types.AttributeValue, rows ...map[string]any) *awsdynamodb.QueryOutput {
	t.Helper()
	out := &awsdynamodb.QueryOutput{LastEvaluatedKey: lastKey}
	for _, r := range rows {
		out.Items = append(out.Items, av(t, r))
	}
	return out
}

func TestQueryStreamsPagesAndWindows(t *testing.T) {
	marker := map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: "p1"}}
	api := &fakeAPI{queryPages: []*awsdynamodb.QueryOutput{
		queryPage(t, marker,
			map[string]any{"pk": "p1", "sk": "item#a", "id": "a", "typeName": "task"},
			map[string]any{"pk": "p1", "sk": "item#b", "id": "b", "typeName": "task"}),
		queryPage(t, nil,
			map[string]any{"pk": "p1", "sk": "item#c", "id": "c", "typeName": "task"}),
	}}
	s := newStore(t, api)

	it, err := s.Query(context.Background(), store.QuerySpec{
		TypeName:     "task",
		PartitionKey: "p1",
		Skip:         1,
		Take:         1,
	})
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next(context.Background()) {
		var id string
		require.NoError(t, json.Unmarshal(it.Value()["id"], &id))
		got = append(got, id)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"b"}, got)
}

func TestQueryOrderedDrainsAndSorts(t *testing.T) {
	api := &fakeAPI{scanPages: []*awsdynamodb.ScanOutput{{Items: []map[string]types.AttributeValue{
		av(t, map[string]any{"pk": "p1", "sk": "item#a", "id": "a", "typeName": "task", "score": 1}),
		av(t, map[string]any{"pk": "p1", "sk": "item#b", "id": "b", "typeName": "task", "score": 3}),
		av(t, map[string]any{"pk": "p2", "sk": "item#c", "id": "c", "typeName": "task", "score": 2}),
	}}}}
	s := newStore(t, api)

	it, err := s.Query(context.Background(), store.QuerySpec{
		TypeName:   "task",
		OrderBy:    "score",
		Descending: true,
		Take:       -1,
	})
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next(context.Background()) {
		var id string
		require.NoError(t, json.Unmarshal(it.Value()["id"], &id))
		got = append(got, id)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"b", "c", "a"}, got)
	assert.Equal(t, 1, api.scanCalls)
}

func TestQueryRejectsUnsupportedOperator(t *testing.T) {
	s := newStore(t, &fakeAPI{})
	_, err := s.Query(context.Background(), store.QuerySpec{
		TypeName:  "task",
		Predicate: expr.Compare{Op: "like", Member: expr.Member{Name: "title"}, Value: expr.Const{Value: "x"}},
		Take:      -1,
	})
	assert.True(t, errors.IsBadRequest(err))
}

func TestNewRequiresClientAndTable(t *testing.T) {
	_, err := dynamo.New(nil, dynamo.Config{TableName: "items"})
	assert.True(t, errors.IsBadRequest(err))
	_, err = dynamo.New(&fakeAPI{}, dynamo.Config{})
	assert.True(t, errors.IsBadRequest(err))
}

func TestPing(t *testing.T) {
	s := newStore(t, &fakeAPI{})
	assert.NoError(t, s.Ping(context.Background()))
}
