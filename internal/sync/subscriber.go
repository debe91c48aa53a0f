package sync

import (
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/vchat-dev/vchat/internal/docstore"
	"github.com/vchat-dev/vchat/internal/faults"
)

// Subscriber owns one live query: it forwards wholesale snapshots to its
// handler and classifies feed errors before reporting them. A feed error
// terminates the feed; the engine decides whether to reopen it.
type Subscriber struct {
	stop func()
	once stdsync.Once
}

// Subscribe opens a change feed on store for q. onSnapshot receives every
// snapshot, including the immediate initial one. onFault, which may be nil,
// receives the classified error that terminated the feed.
func Subscribe(store docstore.Store, q docstore.Query, logger *zap.Logger,
	onSnapshot func(docstore.Snapshot), onFault func(*faults.Fault)) *Subscriber {

	s := &Subscriber{}
	s.stop = store.Subscribe(q, onSnapshot, func(err error) {
		fault := faults.Classify(err)
		logger.Warn("live query terminated",
			zap.String("collection", q.Collection),
			zap.String("kind", fault.Kind.String()),
			zap.Error(err))
		if onFault != nil {
			onFault(fault)
		}
	})
	return s
}

// Close tears the feed down. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(s.stop)
}
