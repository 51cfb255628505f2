// Package store carries a unit of work through context so that repositories,
// the outbox and the inbox all write inside the same transaction.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Transactor runs fn inside a transaction. When ctx already carries a scope
// fn joins it, and commit happens when the outermost call returns.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Scope is the transaction attached to a context.
type Scope struct {
	// Tx is the driver transaction (pgx.Tx for postgres, nil for the memory store).
	Tx    any
	owner any
	hooks []func(context.Context)
}

type scopeKey struct{}

func NewScope(owner any, tx any) *Scope {
	return &Scope{Tx: tx, owner: owner}
}

func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// ScopeOf returns the scope of ctx only when it was opened by owner.
func ScopeOf(ctx context.Context, owner any) (*Scope, bool) {
	s, ok := ScopeFrom(ctx)
	if !ok || s.owner != owner {
		return nil, false
	}
	return s, true
}

// InTransaction reports whether ctx carries an open unit of work.
func InTransaction(ctx context.Context) bool {
	_, ok := ScopeFrom(ctx)
	return ok
}

// AfterCommit registers fn to run once the outermost transaction committed.
// Outside a transaction fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	s, ok := ScopeFrom(ctx)
	if !ok {
		fn(ctx)
		return
	}
	s.hooks = append(s.hooks, fn)
}

// Committed runs the registered hooks with a context that no longer carries the scope.
func (s *Scope) Committed(ctx context.Context) {
	ctx = Detach(ctx)
	hooks := s.hooks
	s.hooks = nil
	for _, fn := range hooks {
		fn(ctx)
	}
}

// Detach strips the transaction scope from ctx, keeping values and deadlines.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, (*Scope)(nil))
}
