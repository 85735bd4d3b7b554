package user

//go:generate mockgen -source=directory.go -destination=usermock/directory.go -package=usermock

import (
	"context"
	"fmt"
	"time"

	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/repository"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Directory resolves users referenced by reward and level operations.
type Directory interface {
	// Get returns a USER_NOT_FOUND error when id does not resolve.
	Get(ctx context.Context, id string) (*User, error)
	Exists(ctx context.Context, id string) (bool, error)
	ListByBirthday(ctx context.Context, month time.Month, day int) ([]*User, error)
}

// Authorizer answers role based permission questions for a resolved user.
type Authorizer interface {
	Can(ctx context.Context, u *User, obj, act string) (bool, error)
}

type Store struct {
	repo repository.Repository[User]
}

type StoreParams struct {
	fx.In
	DB *gorm.DB
}

func NewStore(p StoreParams) *Store {
	return &Store{repo: repository.ProvideStore[User](p.DB)}
}

func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, errutil.UserNotFound(id)
	}

	u, err := s.repo.FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	if u == nil {
		return nil, errutil.UserNotFound(id)
	}
	return u, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	n, err := s.repo.Count(ctx, &User{ID: id})
	if err != nil {
		return false, fmt.Errorf("count user %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) ListByBirthday(ctx context.Context, month time.Month, day int) ([]*User, error) {
	return s.repo.Find(ctx, &User{BirthMonth: int(month), BirthDay: day})
}

func (s *Store) Save(ctx context.Context, u *User) error {
	return s.repo.Create(ctx, u)
}
