package credentialsrepofake

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
)

var _ credentials.Repo = (*FakeCredentialRepo)(nil)

var ErrInjected = errors.New("injected storage failure")

type FakeCredentialRepo struct {
	values   map[string]string
	failGet  map[string]bool
	failPut  bool
	failDel  bool
	putCalls int
	lock     sync.RWMutex
}

func NewFakeCredentialRepo() *FakeCredentialRepo {
	return &FakeCredentialRepo{
		values: make(map[string]string),
	}
}

// NewFakeCredentialRepoWith returns a repo pre-populated with values.
func NewFakeCredentialRepoWith(values map[string]string) *FakeCredentialRepo {
	r := NewFakeCredentialRepo()
	for k, v := range values {
		r.values[k] = v
	}
	return r
}

func (r *FakeCredentialRepo) Get(_ context.Context, key string) (string, bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.failGet[key] {
		return "", false, ErrInjected
	}
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *FakeCredentialRepo) Put(_ context.Context, entries map[string]string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.putCalls++
	if r.failPut {
		return ErrInjected
	}
	for k, v := range entries {
		r.values[k] = v
	}
	return nil
}

func (r *FakeCredentialRepo) Delete(_ context.Context, keys ...string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.failDel {
		return ErrInjected
	}
	for _, k := range keys {
		delete(r.values, k)
	}
	return nil
}

// FailWrites makes subsequent Put and Delete calls fail.
func (r *FakeCredentialRepo) FailWrites(fail bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.failPut = fail
	r.failDel = fail
}

// FailReads makes subsequent Get calls for keys fail.
func (r *FakeCredentialRepo) FailReads(keys ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.failGet == nil {
		r.failGet = make(map[string]bool)
	}
	for _, k := range keys {
		r.failGet[k] = true
	}
}

// Snapshot returns a copy of the stored values.
func (r *FakeCredentialRepo) Snapshot() map[string]string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *FakeCredentialRepo) PutCalls() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.putCalls
}
