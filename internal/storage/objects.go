package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Object is an in-memory payload reachable through an addressable reference.
type Object struct {
	Data     []byte
	MimeType string
	Name     string
}

// ObjectStore issues revocable references for in-memory payloads, the
// server-side counterpart of browser object URLs. A reference is the URL
// path the object is served under: prefix + uuid.
type ObjectStore struct {
	prefix  string
	mu      sync.RWMutex
	objects map[string]Object
}

func NewObjectStore(prefix string) *ObjectStore {
	if prefix == "" {
		prefix = "/objects/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{prefix: prefix, objects: map[string]Object{}}
}

// Create stores data and returns a fresh reference for it.
func (s *ObjectStore) Create(name string, data []byte, mimeType string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("object id: %w", err)
	}
	s.mu.Lock()
	s.objects[id.String()] = Object{Data: data, MimeType: mimeType, Name: name}
	s.mu.Unlock()
	return s.prefix + id.String(), nil
}

// Replace swaps the payload behind an existing reference.
func (s *ObjectStore) Replace(ref string, data []byte) error {
	id, ok := s.id(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	obj.Data = data
	s.objects[id] = obj
	return nil
}

// Revoke drops the object; later lookups of ref miss.
func (s *ObjectStore) Revoke(ref string) {
	if id, ok := s.id(ref); ok {
		s.mu.Lock()
		delete(s.objects, id)
		s.mu.Unlock()
	}
}

// Lookup accepts either a full reference or the bare id.
func (s *ObjectStore) Lookup(ref string) (Object, bool) {
	id, ok := s.id(ref)
	if !ok {
		id = ref
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, found := s.objects[id]
	return obj, found
}

func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *ObjectStore) id(ref string) (string, bool) {
	if !strings.HasPrefix(ref, s.prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, s.prefix), true
}
