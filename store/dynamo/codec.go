package dynamo

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"itemstore/item"
	"itemstore/pkg/errors"
)

// Key attribute names of the single-table layout. Item rows use an
// "item#<id>" sort key, audit events "event#<id>", so one partition holds an
// item and its history side by side.
const (
	attrPK = "pk"
	attrSK = "sk"

	itemSortPrefix  = "item#"
	eventSortPrefix = "event#"
)

// encodeDoc converts a stored document into an attribute-value map and adds
// the table keys.
func encodeDoc(doc item.Document, partitionKey, sortKey string) (map[string]types.AttributeValue, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "encode document")
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "encode document")
	}
	av, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "marshal attribute values")
	}
	av[attrPK] = &types.AttributeValueMemberS{Value: partitionKey}
	av[attrSK] = &types.AttributeValueMemberS{Value: sortKey}
	return av, nil
}

// decodeDoc converts an attribute-value map back into a document, dropping
// the table keys.
func decodeDoc(av map[string]types.AttributeValue) (item.Document, error) {
	var plain map[string]any
	if err := attributevalue.UnmarshalMap(av, &plain); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "unmarshal attribute values")
	}
	delete(plain, attrPK)
	delete(plain, attrSK)
	raw, err := json.Marshal(plain)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "decode document")
	}
	var doc item.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "decode document")
	}
	return doc, nil
}

func itemSortKey(id string) string  { return itemSortPrefix + id }
func eventSortKey(id string) string { return eventSortPrefix + id }
