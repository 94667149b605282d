package security

import (
	"sync"

	"github.com/gauravks/open62541/errors"
)

// KeyStorage holds the key material for one security-group id, shared
// by every ReaderGroup configured with that group id. It is
// refcounted: the last ReaderGroup to detach tears it down.
type KeyStorage struct {
	mu sync.Mutex

	securityGroupID string
	refCount        int
	ctx             *PolicyContext
}

// NewKeyStorage creates an empty, unreferenced KeyStorage for a
// security-group id. Callers must Attach before using it.
func NewKeyStorage(securityGroupID string) *KeyStorage {
	return &KeyStorage{
		securityGroupID: securityGroupID,
		ctx:             &PolicyContext{},
	}
}

// SecurityGroupID returns the group id this storage was created for.
func (s *KeyStorage) SecurityGroupID() string {
	return s.securityGroupID
}

// Attach increments the reference count, called when a ReaderGroup
// starts referencing this KeyStorage.
func (s *KeyStorage) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount++
}

// Detach decrements the reference count and reports whether this was
// the last reference (the caller should discard the KeyStorage).
func (s *KeyStorage) Detach() (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refCount > 0 {
		s.refCount--
	}
	return s.refCount == 0
}

// RefCount reports the current reference count.
func (s *KeyStorage) RefCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount
}

// Context returns the PolicyContext every referencing ReaderGroup
// shares — installing a key set here is visible to all of them.
func (s *KeyStorage) Context() *PolicyContext {
	return s.ctx
}

// InstallKeys applies a rolled-over key set. Fails with InternalError
// if no policy has been configured for this storage's security group.
func (s *KeyStorage) InstallKeys(policy Policy, ks KeySet) error {
	if policy == nil {
		return errors.Wrap(
			errNoPolicy,
			errors.KindInternalError, "KeyStorage", "InstallKeys")
	}
	return s.ctx.SetKeys(policy, ks)
}

var errNoPolicy = policyError("no security policy configured for this reader group")

type policyError string

func (e policyError) Error() string { return string(e) }
