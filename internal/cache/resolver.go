package cache

import (
	"context"

	"github.com/pkg/errors"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
)

// ErrUnresolvedUser is returned when an author profile is nowhere to be found.
var ErrUnresolvedUser = errors.New("unresolved user")

// Resolver turns a stored status into the copy handed to subscribers, with author
// profiles attached.
type Resolver struct {
	users *UserCache
}

func NewResolver(users *UserCache) *Resolver { return &Resolver{users: users} }

// Resolve returns a copy of s whose User (and the retweeted original's User) are set.
// Profiles already present on s are kept and refreshed into the cache.
func (r *Resolver) Resolve(ctx context.Context, s *model.Status) (*model.Status, error) {
	out := s.Clone()
	if s.RetweetedOriginal != nil {
		out.RetweetedOriginal = s.RetweetedOriginal.Clone()
	}

	var known []*model.User
	var need []int64
	if out.User != nil {
		known = append(known, out.User)
	} else {
		need = append(need, out.UserID)
	}
	if o := out.RetweetedOriginal; o != nil {
		if o.User != nil {
			known = append(known, o.User)
		} else {
			need = append(need, o.UserID)
		}
	}
	if len(known) > 0 {
		r.users.Put(ctx, known...)
	}
	if len(need) == 0 {
		return out, nil
	}

	users, err := r.users.GetMany(ctx, need)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve status %d", s.ID)
	}
	if out.User == nil {
		if out.User = users[out.UserID]; out.User == nil {
			return nil, errors.Wrapf(ErrUnresolvedUser, "author %d of status %d", out.UserID, s.ID)
		}
	}
	if o := out.RetweetedOriginal; o != nil && o.User == nil {
		if o.User = users[o.UserID]; o.User == nil {
			return nil, errors.Wrapf(ErrUnresolvedUser, "author %d of status %d", o.UserID, o.ID)
		}
	}
	return out, nil
}
