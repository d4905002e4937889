package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
)

func seedCourse(t *testing.T, s *MemoryStore, owner domain.UserID) *domain.Course {
	t.Helper()
	var course *domain.Course
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		var err error
		course, err = tx.Roster().CreateCourse(ctx, "Algebra", "", owner)
		return err
	})
	require.NoError(t, err)
	return course
}

func TestMemoryStore_CreateCourseAddsOwnerMembership(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		m, err := tx.Roster().FindMembership(ctx, course.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleOwner, m.Role)

		members, err := tx.Roster().GetMembers(ctx, course.ID)
		require.NoError(t, err)
		assert.Len(t, members, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		require.NoError(t, err)
		_, err = tx.Audit().Append(ctx, course.ID, "u1", "Ann", "Bob has been added")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().FindMembership(ctx, course.ID, "u2")
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)

		events, err := tx.Audit().ListByCourse(ctx, course.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
		return nil
	})
}

func TestMemoryStore_RollbackOnPanic(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	assert.Panics(t, func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
			_, _ = tx.Roster().AddMember(ctx, course.ID, "u2")
			panic("mid-transaction")
		})
	})

	// The mutex must have been released and the insert discarded.
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().FindMembership(ctx, course.ID, "u2")
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackWhenContextExpires(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().FindMembership(ctx, course.ID, "u2")
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
		return nil
	})
}

func TestMemoryStore_AddMemberDuplicate(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
}

func TestMemoryStore_ConcurrentAddMemberOneWins(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
				_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
				return err
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyMember):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestMemoryStore_RemoveMemberRejectsOwner(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		owner, err := tx.Roster().FindMembership(ctx, course.ID, "u1")
		require.NoError(t, err)
		_, err = tx.Roster().RemoveMember(ctx, owner.ID)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrOwnerMembership)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		return tx.Roster().LeaveCourse(ctx, course.ID, "u1")
	})
	assert.ErrorIs(t, err, domain.ErrOwnerMembership)
}

func TestMemoryStore_GetMembersOrderAndDisplayNames(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		require.NoError(t, tx.Users().Upsert(ctx, domain.User{ID: "u1", DisplayName: "Ann"}))
		_, err := tx.Roster().AddMember(ctx, course.ID, "u3")
		require.NoError(t, err)
		_, err = tx.Roster().AddMember(ctx, course.ID, "u2")
		return err
	})
	require.NoError(t, err)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		members, err := tx.Roster().GetMembers(ctx, course.ID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "Ann", members[0].DisplayName)
		assert.Equal(t, domain.UserID("u3"), members[1].UserID)
		assert.Equal(t, "u3", members[1].DisplayName)
		assert.Equal(t, domain.UserID("u2"), members[2].UserID)
		return nil
	})
}

func TestMemoryStore_DeleteCourseCascades(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		require.NoError(t, err)
		_, err = tx.Audit().Append(ctx, course.ID, "u1", "Ann", "u2 has been added")
		require.NoError(t, err)
		return tx.Roster().DeleteCourse(ctx, course.ID)
	})
	require.NoError(t, err)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().GetCourse(ctx, course.ID)
		assert.ErrorIs(t, err, domain.ErrCourseNotFound)

		courses, err := tx.Roster().ListCoursesForUser(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, courses)
		return nil
	})
}

func TestMemoryStore_ListByCourseNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		for _, msg := range []string{"first", "second", "third"} {
			if _, err := tx.Audit().Append(ctx, course.ID, "u1", "Ann", msg); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		events, err := tx.Audit().ListByCourse(ctx, course.ID, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "third", events[0].Message)
		assert.Equal(t, "second", events[1].Message)
		return nil
	})
}

func TestMemoryStore_LeaveCourseRejectsOwner(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Roster().AddMember(ctx, course.ID, "u2"); err != nil {
			return err
		}
		assert.ErrorIs(t, tx.Roster().LeaveCourse(ctx, course.ID, "u1"), domain.ErrOwnerMembership)
		assert.NoError(t, tx.Roster().LeaveCourse(ctx, course.ID, "u2"))
		assert.ErrorIs(t, tx.Roster().LeaveCourse(ctx, course.ID, "u2"), domain.ErrMembershipNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_ReadOnlyTxKeepsLiveState(t *testing.T) {
	s := NewMemoryStore()
	course := seedCourse(t, s, "u1")
	live := s.state

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Roster().GetMembers(ctx, course.ID); err != nil {
			return err
		}
		_, err := tx.Audit().ListByCourse(ctx, course.ID, 10)
		return err
	})
	require.NoError(t, err)
	assert.Same(t, live, s.state)

	boom := errors.New("boom")
	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Roster().AddMember(ctx, course.ID, "u2"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Same(t, live, s.state)
	assert.Len(t, live.memberships, 1, "a failed write must not leak into the live state")

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		return err
	})
	require.NoError(t, err)
	assert.NotSame(t, live, s.state)
	assert.Len(t, s.state.memberships, 2)
	assert.Len(t, live.memberships, 1)
}
