// Package inventory 持有合并后的权威清单，并负责刷新与变更的串行化。
package inventory

import (
	"sync"
	"time"

	"startup-inspector/internal/domain/model"
)

// CategoryState 是某个类别最近一次提交的状态。
type CategoryState struct {
	Category    model.Category       `json:"category"`
	Records     []model.LaunchRecord `json:"records"`
	Status      model.SourceStatus   `json:"status"`
	Method      string               `json:"method,omitempty"`
	Diagnostics []model.Diagnostic   `json:"diagnostics,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Change 通知观察者哪个类别被替换。
type Change struct {
	Category model.Category
	Count    int
	Status   model.SourceStatus
}

// Store 是内存中的清单。只能整类别替换，对外返回的都是拷贝。
type Store struct {
	mu     sync.RWMutex
	states map[model.Category]CategoryState

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]func(Change)
}

func NewStore() *Store {
	return &Store{
		states:    make(map[model.Category]CategoryState),
		observers: make(map[int]func(Change)),
	}
}

// Replace 原子替换一个类别，并在释放锁后通知观察者。
func (s *Store) Replace(state CategoryState) {
	state.Records = cloneRecords(state.Records)
	state.Diagnostics = append([]model.Diagnostic(nil), state.Diagnostics...)

	s.mu.Lock()
	s.states[state.Category] = state
	s.mu.Unlock()

	s.notify(Change{Category: state.Category, Count: len(state.Records), Status: state.Status})
}

// Category 返回类别状态；ok=false 表示该类别尚未刷新过。
func (s *Store) Category(c model.Category) (CategoryState, bool) {
	s.mu.RLock()
	st, ok := s.states[c]
	s.mu.RUnlock()
	if !ok {
		return CategoryState{Category: c}, false
	}
	st.Records = cloneRecords(st.Records)
	st.Diagnostics = append([]model.Diagnostic(nil), st.Diagnostics...)
	return st, true
}

// Records 返回类别记录的拷贝。
func (s *Store) Records(c model.Category) []model.LaunchRecord {
	st, _ := s.Category(c)
	return st.Records
}

// All 按固定类别顺序返回全部记录。
func (s *Store) All() []model.LaunchRecord {
	var out []model.LaunchRecord
	for _, c := range model.AllCategories() {
		out = append(out, s.Records(c)...)
	}
	return out
}

// Lookup 按身份键查找记录。
func (s *Store) Lookup(c model.Category, identityKey string) (model.LaunchRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.states[c].Records {
		if r.IdentityKey == identityKey {
			return r.Clone(), true
		}
	}
	return model.LaunchRecord{}, false
}

// Subscribe 注册观察者，返回取消函数。
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(ch Change) {
	s.obsMu.Lock()
	fns := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func cloneRecords(in []model.LaunchRecord) []model.LaunchRecord {
	if in == nil {
		return nil
	}
	out := make([]model.LaunchRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
