package dbrouter

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Transaction is the routing view of a logical transaction. The first node
// registered stays bound until the transaction ends.
type Transaction interface {
	ID() string
	Name() string
	IsActive() bool
	IsReadOnly() bool
	CurrentNode() *NodeAttribute
	// RegisterNode binds node if none is bound yet and records the statement.
	RegisterNode(node *NodeAttribute, attr *SqlAttribute)
	AddSql(attr *SqlAttribute)
}

type transactionKey struct{}

// WithTransaction attaches tx to ctx for every routing call made under it.
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

func TransactionFrom(ctx context.Context) Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(transactionKey{}).(Transaction)
	return tx
}

// LocalTransaction in-process Transaction, begun on creation
type LocalTransaction struct {
	id       string
	name     string
	readOnly bool

	mu     sync.Mutex
	active bool
	node   *NodeAttribute
	sqls   []*SqlAttribute
}

func NewTransaction(name string, readOnly bool) *LocalTransaction {
	return &LocalTransaction{
		id:       uuid.NewString(),
		name:     name,
		readOnly: readOnly,
		active:   true,
	}
}

func (t *LocalTransaction) ID() string {
	return t.id
}

func (t *LocalTransaction) Name() string {
	return t.name
}

func (t *LocalTransaction) IsReadOnly() bool {
	return t.readOnly
}

func (t *LocalTransaction) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *LocalTransaction) CurrentNode() *NodeAttribute {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.node
}

func (t *LocalTransaction) RegisterNode(node *NodeAttribute, attr *SqlAttribute) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.node == nil {
		t.node = node
	}
	if attr != nil {
		t.sqls = append(t.sqls, attr)
	}
}

func (t *LocalTransaction) AddSql(attr *SqlAttribute) {
	if attr == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sqls = append(t.sqls, attr)
}

// Statements audit trail, in routing order
func (t *LocalTransaction) Statements() []*SqlAttribute {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*SqlAttribute(nil), t.sqls...)
}

// Commit and Rollback end the transaction and release its node binding.
func (t *LocalTransaction) Commit() {
	t.end()
}

func (t *LocalTransaction) Rollback() {
	t.end()
}

func (t *LocalTransaction) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	t.node = nil
}
