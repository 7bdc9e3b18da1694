// Package mocks provides in-memory test doubles for the sweep coordinator's
// collaborators.
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/hogwatch/hogwatch/pkg/types"
)

// ErrDigestUnavailable is returned by the mock registry for pairs without a
// scripted digest.
var ErrDigestUnavailable = errors.New("mock: digest unavailable")

// Registry is a scripted types.RegistryClient.
type Registry struct {
	Repos     []string
	ReposErr  error
	Tags      map[string][]string // repository -> tags
	TagsErr   map[string]error    // repository -> enumeration error
	Digests   map[string]string   // "repository:tag" -> digest
	mu        sync.Mutex
	Requested []string // "repository:tag" resolution order
}

func (r *Registry) ListRepositories(_ context.Context, _ string) ([]string, error) {
	return r.Repos, r.ReposErr
}

func (r *Registry) ListTags(_ context.Context, _ string, repository string) ([]string, error) {
	if r.TagsErr != nil {
		if err, ok := r.TagsErr[repository]; ok {
			return r.Tags[repository], err
		}
	}

	return r.Tags[repository], nil
}

func (r *Registry) ResolveDigest(_ context.Context, _, repository, tag string) (string, error) {
	r.mu.Lock()
	r.Requested = append(r.Requested, repository+":"+tag)
	r.mu.Unlock()

	digest, ok := r.Digests[repository+":"+tag]
	if !ok {
		return "", ErrDigestUnavailable
	}

	return digest, nil
}

// Store is an in-memory types.Store.
type Store struct {
	mu        sync.Mutex
	Records   map[string]types.ImageRecord // "name:tag" -> record
	GetErr    error
	UpsertErr error
	Upserts   []types.ImageRecord
}

func NewStore() *Store {
	return &Store{Records: make(map[string]types.ImageRecord)}
}

func (s *Store) Get(_ context.Context, imageName, tag string) (types.ImageRecord, bool, error) {
	if s.GetErr != nil {
		return types.ImageRecord{}, false, s.GetErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.Records[imageName+":"+tag]

	return record, ok, nil
}

func (s *Store) Upsert(_ context.Context, record types.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Upserts = append(s.Upserts, record)

	if s.UpsertErr != nil {
		return s.UpsertErr
	}

	s.Records[record.ImageName+":"+record.Tag] = record

	return nil
}

func (s *Store) Close() error { return nil }

// Scanner is a scripted types.Scanner.
type Scanner struct {
	Results map[string]types.ScanResult // image reference -> result
	mu      sync.Mutex
	Calls   []string
}

func (s *Scanner) Scan(_ context.Context, imageRef string) types.ScanResult {
	s.mu.Lock()
	s.Calls = append(s.Calls, imageRef)
	s.mu.Unlock()

	if result, ok := s.Results[imageRef]; ok {
		return result
	}

	return types.ScanResult{Report: "clean"}
}

// Notifier records sent messages and files.
type Notifier struct {
	mu       sync.Mutex
	Messages []string
	Files    []string
	Err      error
}

func (n *Notifier) SendMessage(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Messages = append(n.Messages, message)

	return n.Err
}

func (n *Notifier) SendFile(path, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Files = append(n.Files, path)

	return n.Err
}
