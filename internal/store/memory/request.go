package memory

import (
	"context"
	"sync"

	"github.com/anatolio-deb/joinbot/internal/request"
)

type RequestStore struct {
	mu       sync.Mutex
	requests map[string]request.Request
	// active maps a principal to its non-terminal request id.
	active map[int64]string
}

func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[string]request.Request),
		active:   make(map[int64]string),
	}
}

func (s *RequestStore) ReplaceActive(_ context.Context, req request.Request) (*request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded *request.Request
	if id, ok := s.active[req.PrincipalID]; ok {
		if prev, ok := s.requests[id]; ok {
			superseded = &prev
			delete(s.requests, id)
		}
	}
	s.requests[req.ID] = req
	if req.Status.Terminal() {
		delete(s.active, req.PrincipalID)
	} else {
		s.active[req.PrincipalID] = req.ID
	}
	return superseded, nil
}

func (s *RequestStore) Active(_ context.Context, principalID int64) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[principalID]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return s.requests[id], nil
}

func (s *RequestStore) Get(_ context.Context, id string) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return req, nil
}

func (s *RequestStore) Update(_ context.Context, id string, fn request.UpdateFunc) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	next := cur
	if err := fn(&next); err != nil {
		return request.Request{}, err
	}
	next.ID, next.PrincipalID = cur.ID, cur.PrincipalID
	s.requests[id] = next
	switch activeID, ok := s.active[next.PrincipalID]; {
	case next.Status.Terminal() && activeID == next.ID:
		delete(s.active, next.PrincipalID)
	case !next.Status.Terminal() && !ok:
		s.active[next.PrincipalID] = next.ID
	}
	return next, nil
}
