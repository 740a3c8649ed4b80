// Graph walker: drains the dependency graph built by graph.go, running
// recipe nodes with bounded parallelism, single-thread token exclusion,
// and desist/persevere cancellation semantics (spec.md §4.8).
//
// Rather than the ready-queue-plus-propagation-counters design spelled
// out narratively in spec.md, this walker recurses goroutine-per-node
// the way the teacher's mkNode/mkNodePrereqs do (mk.go), memoizing each
// node so concurrent dependents block on the same completion channel
// instead of re-running it. The observable scheduling behavior —
// bounded concurrency, single-thread exclusion, desist on
// interrupt — matches; only the internal bookkeeping shape differs.

package main

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// fileWalkState memoizes one file node's build outcome so that every
// consumer recipe sees the same completion exactly once.
type fileWalkState struct {
	once   sync.Once
	done   chan struct{}
	result RunResult
	err    error
}

type recipeWalkState struct {
	once   sync.Once
	done   chan struct{}
	result RunResult
	err    error
}

// Walker owns the concurrency primitives shared across the whole walk:
// a job-slot semaphore (parallel_jobs) and a single-thread token
// multiset, both modeled on the teacher's reserveSubproc /
// reserveExclusiveSubproc pair (mk.go).
type Walker struct {
	Builder *Builder
	Exec    *Executor
	Opts    *OptionStack
	Globals map[string]WordList

	ExternalDesist func() bool

	jobsMu      sync.Mutex
	jobsCond    *sync.Cond
	jobsRunning int
	jobsAllowed int

	tokenMu    sync.Mutex
	tokenCond  *sync.Cond
	heldTokens map[string]int

	stateMu      sync.Mutex
	fileStates   map[*GraphFileNode]*fileWalkState
	recipeStates map[*GraphRecipeNode]*recipeWalkState

	desisted   int32
	persevere  bool
	errMu      sync.Mutex
	firstError error
}

// NewWalker reads and normalizes parallel_jobs from globals, writing the
// clamped value back (spec.md §4.8 "the value is normalized and written
// back to the variable").
func NewWalker(b *Builder, ex *Executor, opts *OptionStack, globals map[string]WordList) *Walker {
	jobs := 1
	if wl, ok := globals["parallel_jobs"]; ok && len(wl) > 0 {
		if n, err := strconv.Atoi(wl[0].Text); err == nil && n > 0 {
			jobs = n
		}
	}
	globals["parallel_jobs"] = NewWordList(strconv.Itoa(jobs))

	w := &Walker{
		Builder: b, Exec: ex, Opts: opts, Globals: globals,
		jobsAllowed:  jobs,
		heldTokens:   make(map[string]int),
		fileStates:   make(map[*GraphFileNode]*fileWalkState),
		recipeStates: make(map[*GraphRecipeNode]*recipeWalkState),
		persevere:    opts.Get(FlagPersevere),
	}
	w.jobsCond = sync.NewCond(&w.jobsMu)
	w.tokenCond = sync.NewCond(&w.tokenMu)
	return w
}

func (w *Walker) desist() bool {
	if atomic.LoadInt32(&w.desisted) != 0 {
		return true
	}
	return w.ExternalDesist != nil && w.ExternalDesist()
}

func (w *Walker) recordError(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.firstError == nil {
		w.firstError = err
	}
	if !w.persevere {
		atomic.StoreInt32(&w.desisted, 1)
	}
}

// Walk drives every node reachable from targets to completion, returning
// the first error encountered (spec.md §4.8 "Cancellation").
func (w *Walker) Walk(targets []*GraphFileNode) error {
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t *GraphFileNode) {
			defer wg.Done()
			w.buildFile(t)
		}(t)
	}
	wg.Wait()
	return w.firstError
}

// buildFile recurses into t's producing recipes, memoized so a file with
// multiple consumers is only ever built once.
func (w *Walker) buildFile(t *GraphFileNode) (RunResult, error) {
	w.stateMu.Lock()
	st, ok := w.fileStates[t]
	if !ok {
		st = &fileWalkState{done: make(chan struct{})}
		w.fileStates[t] = st
	}
	w.stateMu.Unlock()

	st.once.Do(func() {
		defer close(st.done)
		if len(t.Producers) == 0 {
			st.result = ResultUpToDate
			return
		}
		anyRan := false
		for _, p := range t.Producers {
			res, err := w.buildRecipe(p)
			if err != nil {
				st.err = err
				w.recordError(err)
				if !w.persevere {
					return
				}
				continue
			}
			if res == ResultDone {
				anyRan = true
			}
		}
		if st.err != nil {
			st.result = ResultError
		} else if anyRan {
			st.result = ResultDone
		} else {
			st.result = ResultUpToDate
		}
	})
	<-st.done
	return st.result, st.err
}

// buildRecipe builds every input of p (concurrently), then runs p itself
// once inputs are satisfied, honoring the job-slot and single-thread
// token limits (spec.md §4.8 "Concurrency", "Single-thread conflicts").
func (w *Walker) buildRecipe(p *GraphRecipeNode) (RunResult, error) {
	w.stateMu.Lock()
	st, ok := w.recipeStates[p]
	if !ok {
		st = &recipeWalkState{done: make(chan struct{})}
		w.recipeStates[p] = st
	}
	w.stateMu.Unlock()

	st.once.Do(func() {
		defer close(st.done)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var inputErr error
		for _, e := range p.Inputs {
			wg.Add(1)
			go func(e GraphEdge) {
				defer wg.Done()
				_, err := w.buildFile(e.Node)
				if err != nil {
					mu.Lock()
					if inputErr == nil {
						inputErr = err
					}
					mu.Unlock()
				}
			}(e)
		}
		wg.Wait()

		if inputErr != nil && !w.persevere {
			st.err = inputErr
			st.result = ResultError
			return
		}
		if w.desist() {
			st.err = newErr(ErrCancelled, Position{}, "build cancelled")
			st.result = ResultError
			return
		}

		w.reserveJobSlot()
		defer w.releaseJobSlot()
		w.reserveTokens(p.SingleThread)
		defer w.releaseTokens(p.SingleThread)

		if w.desist() {
			st.err = newErr(ErrCancelled, Position{}, "build cancelled")
			st.result = ResultError
			return
		}

		eng := w.Builder.newSubstEngine(p.Match)
		// Bind target/targets for the recipe body that is actually about
		// to run, scoped to this GraphRecipeNode's own Thread rather than
		// the shared Globals map (spec.md §4.6 step 3): this is the one
		// binding recipe bodies observe, since it is rebuilt fresh per
		// buildRecipe call from p.Targets instead of reusing whatever the
		// graph-build phase last happened to bind.
		targetWords := make(WordList, len(p.Targets))
		for i, t := range p.Targets {
			targetWords[i] = W(t.Path)
		}
		eng.Thread["target"] = targetWords
		eng.Thread["targets"] = targetWords
		res, err := w.Exec.Run(p, eng)
		if err != nil {
			st.err = err
			w.recordError(err)
		}
		st.result = res
	})
	<-st.done
	return st.result, st.err
}

// reserveJobSlot / releaseJobSlot bound concurrent recipe executions to
// parallel_jobs, mirroring mk.go's reserveSubproc/finishSubproc pair.
func (w *Walker) reserveJobSlot() {
	w.jobsMu.Lock()
	for w.jobsRunning >= w.jobsAllowed {
		w.jobsCond.Wait()
	}
	w.jobsRunning++
	w.jobsMu.Unlock()
}

func (w *Walker) releaseJobSlot() {
	w.jobsMu.Lock()
	w.jobsRunning--
	w.jobsCond.Signal()
	w.jobsMu.Unlock()
}

// reserveTokens blocks until none of tokens are held by another running
// recipe, then claims them all (spec.md §4.8 "Single-thread conflicts").
func (w *Walker) reserveTokens(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	w.tokenMu.Lock()
	for w.tokensConflict(tokens) {
		w.tokenCond.Wait()
	}
	for _, t := range tokens {
		w.heldTokens[t]++
	}
	w.tokenMu.Unlock()
}

func (w *Walker) tokensConflict(tokens []string) bool {
	for _, t := range tokens {
		if w.heldTokens[t] > 0 {
			return true
		}
	}
	return false
}

func (w *Walker) releaseTokens(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	w.tokenMu.Lock()
	for _, t := range tokens {
		w.heldTokens[t]--
		if w.heldTokens[t] <= 0 {
			delete(w.heldTokens, t)
		}
	}
	w.tokenCond.Broadcast()
	w.tokenMu.Unlock()
}

// RaiseDesist is called by the signal handler on interrupt/hangup/
// terminate (spec.md §4.8 "Cancellation").
func (w *Walker) RaiseDesist() {
	atomic.StoreInt32(&w.desisted, 1)
}
