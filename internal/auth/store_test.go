package auth

import (
	"context"
	"sync"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
)

// memStore はusersとidentitiesの一意制約を強制するインメモリストア。
// 複数のResolverで共有することで複数インスタンスを模擬する。
type memStore struct {
	mu         sync.Mutex
	users      map[string]*model.User
	identities map[string]*model.Identity

	// フック（nilの場合は通常動作）
	beforeCreateUser     func(user *model.User)
	beforeCreateIdentity func(identity *model.Identity)
	findByEmailErr       error

	findByEmailCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.Identity),
	}
}

func identityKey(provider, subject string) string {
	return provider + ":" + subject
}

func (s *memStore) FindByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findByEmailCalls++
	if s.findByEmailErr != nil {
		return nil, s.findByEmailErr
	}
	for _, u := range s.users {
		if model.NormalizeEmail(u.Email) == model.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, user *model.User) error {
	if s.beforeCreateUser != nil {
		s.beforeCreateUser(user)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if model.NormalizeEmail(u.Email) == model.NormalizeEmail(user.Email) {
			return repository.ErrDuplicate
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *memStore) UpdateName(_ context.Context, id, name string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u.Name = name
	cp := *u
	return &cp, nil
}

func (s *memStore) List(_ context.Context, limit, offset int) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.User
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

// identityRepo はmemStoreのIdentityRepository側のビュー。
type identityRepo struct{ s *memStore }

func (r identityRepo) FindByProviderAndProviderUserID(_ context.Context, provider, subject string) (*model.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.identities[identityKey(provider, subject)]
	if !ok {
		return nil, nil
	}
	cp := *id
	return &cp, nil
}

func (r identityRepo) Create(_ context.Context, identity *model.Identity) error {
	if r.s.beforeCreateIdentity != nil {
		r.s.beforeCreateIdentity(identity)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := identityKey(identity.Provider, identity.ProviderUserID)
	if _, ok := r.s.identities[key]; ok {
		return repository.ErrDuplicate
	}
	cp := *identity
	r.s.identities[key] = &cp
	return nil
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) identityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities)
}

// insertUserDirect はフックを経由せずにユーザーを挿入する。
func (s *memStore) insertUserDirect(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// insertIdentityDirect はフックを経由せずにidentityを挿入する。
func (s *memStore) insertIdentityDirect(id *model.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *id
	s.identities[identityKey(id.Provider, id.ProviderUserID)] = &cp
}

var (
	_ repository.UserRepository     = (*memStore)(nil)
	_ repository.IdentityRepository = identityRepo{}
)

// countingHasher はVerifyの呼び出し回数を数えるPasswordHasher。
type countingHasher struct {
	inner       PasswordHasher
	mu          sync.Mutex
	verifyCalls int
	nilDigests  int
	hashErr     error
}

func (h *countingHasher) Hash(plaintext string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return h.inner.Hash(plaintext)
}

func (h *countingHasher) Verify(plaintext string, digest *string) bool {
	h.mu.Lock()
	h.verifyCalls++
	if digest == nil {
		h.nilDigests++
	}
	h.mu.Unlock()
	return h.inner.Verify(plaintext, digest)
}
