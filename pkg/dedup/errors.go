package dedup

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/models"
)

// ErrRunInProgress is returned when another run holds the tenant's lock.
var ErrRunInProgress = errors.New("a dedup run is already in progress for this tenant")

// ValidationError rejects a trigger before anything is read or written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trigger: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("field", e.Field)
}

// TransientStoreError wraps a store failure that aborted one group. Retrying the run may succeed.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

func (e *TransientStoreError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusServiceUnavailable, e.Error()).AddMetaValue("op", e.Op)
}

// ConcurrentModificationError means a group member was merged by someone else after it was loaded.
type ConcurrentModificationError struct {
	LeadIDs []string
	Detail  string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of leads %v: %s", e.LeadIDs, e.Detail)
}

func (e *ConcurrentModificationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("lead_ids", e.LeadIDs)
}

// classify turns a store error into the engine's taxonomy. Repositories signal a
// lost optimistic check with a 409.
func classify(op string, leadIDs []string, err error) error {
	var cm *ConcurrentModificationError
	if errors.As(err, &cm) {
		return err
	}
	var ts *TransientStoreError
	if errors.As(err, &ts) {
		return err
	}
	if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict {
		return &ConcurrentModificationError{LeadIDs: leadIDs, Detail: err.Error()}
	}
	return &TransientStoreError{Op: op, Err: err}
}

func groupError(group *models.DuplicateGroup, err error) models.GroupError {
	kind := models.ErrorKindTransient
	var cm *ConcurrentModificationError
	if errors.As(err, &cm) {
		kind = models.ErrorKindConcurrentModification
	}
	return models.GroupError{
		MatchType: group.MatchType,
		MatchKey:  group.MatchKey,
		LeadIDs:   group.MemberIDs(),
		Kind:      kind,
		Message:   err.Error(),
	}
}
