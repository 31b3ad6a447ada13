package accounting

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned before any ledger query when the input is unusable.
var ErrInvalidArgument = errors.New("invalid argument")

// DataSourceError wraps a ledger read failure. The underlying error is kept
// unmodified and is reachable through errors.Is and errors.As.
type DataSourceError struct {
	Op  string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s: ledger read failed: %v", e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// DataIntegrityError reports a persisted row the aggregator refuses to count.
type DataIntegrityError struct {
	TransactionID string
	Reason        string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("transaction %s: %s", e.TransactionID, e.Reason)
}
