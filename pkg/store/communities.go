package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kgstore/pkg/common"
)

// StoreCommunity upserts a community under its title.
func (s *GraphStore) StoreCommunity(ctx context.Context, community common.Community) error {
	const op = "StoreCommunity"
	if strings.TrimSpace(community.Title) == "" {
		return invalidArgument(op, "", "community title is empty")
	}
	community.Normalize()
	return wrap(op, community.Title, s.backend.PutCommunity(ctx, community))
}

// GetCommunity returns the community stored under title.
func (s *GraphStore) GetCommunity(ctx context.Context, title string) (common.Community, error) {
	const op = "GetCommunity"
	if title == "" {
		return common.Community{}, invalidArgument(op, "", "community title is empty")
	}
	c, err := s.backend.GetCommunity(ctx, title)
	if err != nil {
		return common.Community{}, wrap(op, title, err)
	}
	c.Normalize()
	return c, nil
}

// ListCommunities returns every stored community ordered by title.
func (s *GraphStore) ListCommunities(ctx context.Context) ([]common.Community, error) {
	var out []common.Community
	err := s.backend.ScanCommunities(ctx, func(c common.Community) error {
		c.Normalize()
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, wrap("ListCommunities", "", err)
	}
	slices.SortFunc(out, func(a, b common.Community) int {
		return strings.Compare(a.Title, b.Title)
	})
	return out, nil
}

// SetCommunityID stamps community id on the stored node under its lock, so
// adjacency written concurrently is kept. It reports whether the record
// changed.
func (s *GraphStore) SetCommunityID(ctx context.Context, uid string, id int) (bool, error) {
	const op = "SetCommunityID"
	if uid == "" {
		return false, invalidArgument(op, uid, "node uid is empty")
	}
	unlock, err := s.locker.Lock(ctx, uid)
	if err != nil {
		return false, wrap(op, uid, err)
	}
	defer unlock()

	n, err := s.backend.GetNode(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return false, &OpError{Op: op, Key: uid, Err: ErrNotFound}
	}
	if err != nil {
		return false, wrap(op, uid, err)
	}
	if n.CommunityID != nil && *n.CommunityID == id {
		return false, nil
	}
	n.CommunityID = &id
	return true, wrap(op, uid, s.backend.PutNode(ctx, n))
}
