package dynamo

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"itemstore/item"
	"itemstore/pkg/errors"
)

// pageFetcher retrieves one page of matching documents, returning the
// pagination key for the next page or nil when exhausted.
type pageFetcher func(ctx context.Context, start map[string]types.AttributeValue) ([]item.Document, map[string]types.AttributeValue, error)

// pageIterator streams unordered results page by page, applying skip and
// take while walking so pagination stops as soon as the window is filled.
type pageIterator struct {
	fetch     pageFetcher
	buf       []item.Document
	nextKey   map[string]types.AttributeValue
	started   bool
	exhausted bool
	skip      int
	remain    int // negative means unlimited
	value     item.Document
	err       error
	closed    bool
}

func (it *pageIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	if it.remain == 0 {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			it.err = errors.FromContext(err)
			return false
		}
		if len(it.buf) == 0 {
			if it.started && it.exhausted {
				return false
			}
			docs, next, err := it.fetch(ctx, it.nextKey)
			if err != nil {
				it.err = err
				return false
			}
			it.started = true
			it.buf = docs
			it.nextKey = next
			it.exhausted = next == nil
			if len(it.buf) == 0 {
				if it.exhausted {
					return false
				}
				continue
			}
		}
		doc := it.buf[0]
		it.buf = it.buf[1:]
		if it.skip > 0 {
			it.skip--
			continue
		}
		if it.remain > 0 {
			it.remain--
		}
		it.value = doc
		return true
	}
}

func (it *pageIterator) Value() item.Document { return it.value }
func (it *pageIterator) Err() error           { return it.err }

func (it *pageIterator) Close() error {
	it.closed = true
	it.buf = nil
	it.value = nil
	return nil
}

// sliceIterator walks a fully materialized, already windowed result set.
type sliceIterator struct {
	docs   []item.Document
	pos    int
	value  item.Document
	err    error
	closed bool
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = errors.FromContext(err)
		return false
	}
	if it.pos >= len(it.docs) {
		return false
	}
	it.value = it.docs[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Value() item.Document { return it.value }
func (it *sliceIterator) Err() error           { return it.err }

func (it *sliceIterator) Close() error {
	it.closed = true
	it.docs = nil
	it.value = nil
	return nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
