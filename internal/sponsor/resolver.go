package sponsor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// UserLookup resolves referral input to users.
type UserLookup interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	// FindUserByCode returns uuid.Nil when no user owns the code.
	FindUserByCode(ctx context.Context, code string) (uuid.UUID, error)
}

// Resolver maps a human-entered referral code or an explicit user id to a
// canonical user id. Positive results are cached; misses are not.
type Resolver struct {
	users UserLookup
	cache *expirable.LRU[string, uuid.UUID]
}

func NewResolver(users UserLookup, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{users: users, cache: expirable.NewLRU[string, uuid.UUID](size, nil, ttl)}
}

// NormalizeCode trims and upper-cases a referral code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve returns uuid.Nil, nil when the input does not name an existing user.
func (r *Resolver) Resolve(ctx context.Context, input string) (uuid.UUID, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return uuid.Nil, nil
	}
	if id, err := uuid.Parse(input); err == nil {
		key := "id:" + id.String()
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
		ok, err := r.users.UserExists(ctx, id)
		if err != nil || !ok {
			return uuid.Nil, err
		}
		r.cache.Add(key, id)
		return id, nil
	}

	code := NormalizeCode(input)
	key := "code:" + code
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	id, err := r.users.FindUserByCode(ctx, code)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, err
	}
	r.cache.Add(key, id)
	return id, nil
}
