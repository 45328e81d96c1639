package chain

import (
	"context"
	"sync"
)

type journalKey struct{}

// Journal collects undo entries and commit hooks for one atomic scope.
// Scopes nest: a successful inner scope folds its entries into its parent, and
// only the outermost scope runs the commit hooks.
type Journal struct {
	mu       sync.Mutex
	undo     []func()
	onCommit []func()
}

// Atomic runs fn inside a new journal scope. When fn returns an error or panics,
// every undo entry recorded in the scope is replayed in reverse order and the
// scope's commit hooks are dropped.
func Atomic(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	parent := journalFrom(ctx)
	j := &Journal{}

	defer func() {
		if r := recover(); r != nil {
			j.revert()
			panic(r)
		}
	}()

	if err = fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.revert()
		return err
	}

	if parent != nil {
		parent.absorb(j)
		return nil
	}
	j.commit()
	return nil
}

// RecordUndo registers an undo entry with the journal carried by ctx.
// Outside an atomic scope it does nothing.
func RecordUndo(ctx context.Context, undo func()) {
	if j := journalFrom(ctx); j != nil {
		j.mu.Lock()
		j.undo = append(j.undo, undo)
		j.mu.Unlock()
	}
}

// OnCommit runs fn once the outermost atomic scope commits. Outside an atomic
// scope fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	j := journalFrom(ctx)
	if j == nil {
		fn()
		return
	}
	j.mu.Lock()
	j.onCommit = append(j.onCommit, fn)
	j.mu.Unlock()
}

func journalFrom(ctx context.Context) *Journal {
	j, _ := ctx.Value(journalKey{}).(*Journal)
	return j
}

func (j *Journal) absorb(child *Journal) {
	child.mu.Lock()
	undo, hooks := child.undo, child.onCommit
	child.undo, child.onCommit = nil, nil
	child.mu.Unlock()

	j.mu.Lock()
	j.undo = append(j.undo, undo...)
	j.onCommit = append(j.onCommit, hooks...)
	j.mu.Unlock()
}

func (j *Journal) revert() {
	j.mu.Lock()
	undo := j.undo
	j.undo, j.onCommit = nil, nil
	j.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (j *Journal) commit() {
	j.mu.Lock()
	hooks := j.onCommit
	j.undo, j.onCommit = nil, nil
	j.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
