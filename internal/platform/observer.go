package platform

import (
	"sort"
	"sync"

	"petri/internal/evo"
)

// Champion is a newly published island champion.
type Champion struct {
	Culture     string
	Generation  int
	Entity      *evo.Entity
	Diagnostics evo.Diagnostics
}

// Observer receives champions as they are published and a final
// notification once the incubator stops. Both run on the supervisor
// goroutine; observers that block stall the supervisor.
type Observer interface {
	OnChampion(Champion)
	OnComplete()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Champion func(Champion)
	Complete func()
}

func (f ObserverFuncs) OnChampion(c Champion) {
	if f.Champion != nil {
		f.Champion(c)
	}
}

func (f ObserverFuncs) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// Token identifies one subscription.
type Token uint64

type registry struct {
	mu        sync.Mutex
	next      Token
	observers map[Token]Observer
}

func newRegistry() *registry {
	return &registry{observers: make(map[Token]Observer)}
}

func (r *registry) subscribe(o Observer) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.observers[r.next] = o
	return r.next
}

func (r *registry) unsubscribe(t Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.observers[t]
	delete(r.observers, t)
	return ok
}

// snapshot returns the observers in subscription order. Dispatch iterates
// the snapshot so callbacks may subscribe or unsubscribe freely.
func (r *registry) snapshot() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := make([]Token, 0, len(r.observers))
	for t := range r.observers {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	out := make([]Observer, len(tokens))
	for i, t := range tokens {
		out[i] = r.observers[t]
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}
