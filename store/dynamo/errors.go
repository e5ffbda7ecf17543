package dynamo

import (
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"itemstore/pkg/errors"
	"itemstore/store"
)

// Cancellation reason codes reported inside TransactionCanceledException.
const (
	reasonNone             = "None"
	reasonConditionFailed  = "ConditionalCheckFailed"
	reasonTransactConflict = "TransactionConflict"
	reasonThrottling       = "ThrottlingError"
	reasonCapacityExceeded = "ProvisionedThroughputExceeded"
)

// conditionFailure maps a failed write condition to the caller-facing kind:
// a guarded create collides with an existing row, a guarded update or delete
// lost the compare-and-swap.
func conditionFailure(action store.Action, id string) error {
	if action == store.ActionCreate {
		return errors.Newf(errors.KindConflict, "item %s already exists", id)
	}
	return errors.Newf(errors.KindPreconditionFailed, "etag mismatch for item %s", id)
}

// translate maps SDK failures onto the shared error taxonomy. Transaction
// cancellations are handled by the callers, which know the per-op layout.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	var condFailed *types.ConditionalCheckFailedException
	if stderrors.As(err, &condFailed) {
		return errors.Wrap(err, errors.KindPreconditionFailed, msg)
	}
	var notFound *types.ResourceNotFoundException
	if stderrors.As(err, &notFound) {
		return errors.Wrap(err, errors.KindServiceUnavailable, msg)
	}
	var throughput *types.ProvisionedThroughputExceededException
	if stderrors.As(err, &throughput) {
		return errors.Wrap(err, errors.KindServiceUnavailable, msg)
	}
	var limit *types.RequestLimitExceeded
	if stderrors.As(err, &limit) {
		return errors.Wrap(err, errors.KindServiceUnavailable, msg)
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "InternalServerError", "ServiceUnavailable":
			return errors.Wrap(err, errors.KindServiceUnavailable, msg)
		}
	}
	return errors.Wrap(err, errors.KindInternal, msg)
}
