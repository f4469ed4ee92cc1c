// Package testutil holds in-memory collaborators for tests: a payment
// store with the same conflict rules as the SQLite store, an order
// book and an event recorder.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/paywatch/internal/payment"
)

// MemStore is an in-memory payment.Store.
//
// It enforces the store contract: a terminal save over a non-PENDING
// row fails with payment.ErrStaleWrite and a second PENDING record for
// an order fails with payment.ErrDuplicatePending.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*payment.Record
	order   []string // insertion order

	saveErr  error
	findErr  error
	saves    int
	pendings int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*payment.Record)}
}

// FindByID implements payment.Store.
func (s *MemStore) FindByID(_ context.Context, id string) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFindErr(); err != nil {
		return nil, err
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("find payment %s: %w", id, payment.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindByOrderID implements payment.Store.
func (s *MemStore) FindByOrderID(_ context.Context, orderID string) (*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFindErr(); err != nil {
		return nil, err
	}
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.OrderID == orderID {
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("find payment for order %s: %w", orderID, payment.ErrNotFound)
}

// FindPending implements payment.Store.
func (s *MemStore) FindPending(_ context.Context) ([]*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFindErr(); err != nil {
		return nil, err
	}
	s.pendings++
	var out []*payment.Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.Status == payment.StatusPending {
			out = append(out, rec.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// FindByBuyer implements payment.Store.
func (s *MemStore) FindByBuyer(_ context.Context, buyerID string) ([]*payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFindErr(); err != nil {
		return nil, err
	}
	var out []*payment.Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.BuyerID == buyerID {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Save implements payment.Store.
func (s *MemStore) Save(_ context.Context, rec *payment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		err := s.saveErr
		s.saveErr = nil
		return err
	}

	current, exists := s.records[rec.ID]
	if exists {
		if current.Status.Terminal() {
			return fmt.Errorf("save payment %s: %w", rec.ID, payment.ErrStaleWrite)
		}
	} else if rec.Status == payment.StatusPending {
		for _, other := range s.records {
			if other.OrderID == rec.OrderID && other.Status == payment.StatusPending {
				return fmt.Errorf("save payment %s: %w", rec.ID, payment.ErrDuplicatePending)
			}
		}
		s.order = append(s.order, rec.ID)
	} else {
		s.order = append(s.order, rec.ID)
	}

	s.records[rec.ID] = rec.Clone()
	s.saves++
	return nil
}

// Put stores rec without any conflict checks. Use it to seed state.
func (s *MemStore) Put(rec *payment.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
}

// FailNextSave makes the next Save return err.
func (s *MemStore) FailNextSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// FailNextFind makes the next lookup return err.
func (s *MemStore) FailNextFind(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

// Saves returns the number of successful saves.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FindPendingCalls returns how many times FindPending ran.
func (s *MemStore) FindPendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendings
}

func (s *MemStore) takeFindErr() error {
	if s.findErr == nil {
		return nil
	}
	err := s.findErr
	s.findErr = nil
	return err
}

var _ payment.Store = (*MemStore)(nil)
