package respool

import "github.com/google/uuid"

// loan is spec.md's Resource Loan (§4.C): bookkeeping binding a borrowed
// Pooled Resource to a Future that completes when the borrower returns
// it. Rejection is not part of the borrower protocol — a loan only ever
// resolves — so Drain can treat "wait for Done()" as the reflect adapter
// spec.md §4.H calls for without any special-casing of failure.
type loan[T comparable] struct {
	id       uuid.UUID
	pooled   *pooledResource[T]
	returned *Future[struct{}]
	resolve  func(struct{}) bool
}

func newLoan[T comparable](pooled *pooledResource[T]) *loan[T] {
	future, resolve, _ := newDeferred[struct{}]()
	return &loan[T]{
		id:       uuid.New(),
		pooled:   pooled,
		returned: future,
		resolve:  resolve,
	}
}

// complete signals that the borrower has returned (or had destroyed) the
// resource tied to this loan.
func (l *loan[T]) complete() bool {
	return l.resolve(struct{}{})
}
