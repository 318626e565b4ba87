package core

import "github.com/sirupsen/logrus"

// Engine wires the ledger components over one Store.
type Engine struct {
	Stock     StockService
	Usage     UsageService
	Mutations MutationService
	Policy    TransitionPolicy
}

// NewEngine builds every service over store. A nil policy uses DefaultTransitionRules;
// a nil metrics records nothing.
func NewEngine(store Store, policy TransitionPolicy, log logrus.FieldLogger, metrics *Metrics) *Engine {
	if policy == nil {
		policy = NewTransitionPolicy(DefaultTransitionRules())
	}
	stock := NewAggregate(log, metrics)
	ledger := NewLedger(stock, log)
	alloc := NewAllocator(ledger, stock, log, metrics)
	rev := NewReverser(ledger, alloc, log, metrics)
	mutations := NewMutationEngine(ledger, alloc)

	return &Engine{
		Stock:     NewStockService(store, ledger, stock, log, metrics),
		Usage:     NewUsageService(store, policy, rev, log, metrics),
		Mutations: NewMutationService(store, mutations, alloc, rev, log, metrics),
		Policy:    policy,
	}
}
