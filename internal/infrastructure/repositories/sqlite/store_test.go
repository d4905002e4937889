package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createCourse(t *testing.T, s *Store, owner domain.UserID) *domain.Course {
	t.Helper()
	var course *domain.Course
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		var err error
		course, err = tx.Roster().CreateCourse(ctx, "Physics", "waves", owner)
		return err
	})
	require.NoError(t, err)
	return course
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.db")

	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	course := createCourse(t, first, "u1")
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	err = second.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		got, err := tx.Roster().GetCourse(ctx, course.ID)
		require.NoError(t, err)
		assert.Equal(t, "Physics", got.Name)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_CreateAndGetCourse(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		got, err := tx.Roster().GetCourse(ctx, course.ID)
		require.NoError(t, err)
		assert.Equal(t, course.ID, got.ID)
		assert.Equal(t, "waves", got.Description)
		assert.Equal(t, domain.UserID("u1"), got.OwnerID)
		assert.True(t, got.CreatedAt.Equal(course.CreatedAt))

		owner, err := tx.Roster().FindMembership(ctx, course.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleOwner, owner.Role)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_GetCourseNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().GetCourse(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrCourseNotFound)
}

func TestStore_UpdateCourse(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		got, err := tx.Roster().UpdateCourse(ctx, course.ID, "Optics", "")
		require.NoError(t, err)
		assert.Equal(t, "Optics", got.Name)
		assert.Equal(t, "", got.Description)

		_, err = tx.Roster().UpdateCourse(ctx, "missing", "x", "")
		assert.ErrorIs(t, err, domain.ErrCourseNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_AddMemberDuplicate(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		return err
	})
	require.NoError(t, err)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
}

func TestStore_ConcurrentAddMemberOneWins(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
				if _, err := tx.Roster().AddMember(ctx, course.ID, "u2"); err != nil {
					return err
				}
				_, err := tx.Audit().Append(ctx, course.ID, "u1", "Ann", "u2 has been added")
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
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		events, err := tx.Audit().ListByCourse(ctx, course.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RollbackDiscardsMutationAndAudit(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Roster().AddMember(ctx, course.ID, "u2"); err != nil {
			return err
		}
		if _, err := tx.Audit().Append(ctx, course.ID, "u1", "Ann", "u2 has been added"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().FindMembership(ctx, course.ID, "u2")
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)

		events, err := tx.Audit().ListByCourse(ctx, course.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RollbackOnPanic(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	assert.Panics(t, func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
			_, _ = tx.Roster().AddMember(ctx, course.ID, "u2")
			panic("mid-transaction")
		})
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Roster().FindMembership(ctx, course.ID, "u2")
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RemoveAndLeaveRejectOwner(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		owner, err := tx.Roster().FindMembership(ctx, course.ID, "u1")
		require.NoError(t, err)
		_, err = tx.Roster().RemoveMember(ctx, owner.ID)
		assert.ErrorIs(t, err, domain.ErrOwnerMembership)

		err = tx.Roster().LeaveCourse(ctx, course.ID, "u1")
		assert.ErrorIs(t, err, domain.ErrOwnerMembership)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_RemoveMember(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		m, err := tx.Roster().AddMember(ctx, course.ID, "u2")
		require.NoError(t, err)

		removed, err := tx.Roster().RemoveMember(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.UserID("u2"), removed.UserID)

		_, err = tx.Roster().RemoveMember(ctx, m.ID)
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_GetMembersUsesDirectoryNames(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		require.NoError(t, tx.Users().Upsert(ctx, domain.User{ID: "u1", DisplayName: "Ann"}))
		require.NoError(t, tx.Users().Upsert(ctx, domain.User{ID: "u2", DisplayName: "Bob"}))
		require.NoError(t, tx.Users().Upsert(ctx, domain.User{ID: "u2", DisplayName: "Robert"}))
		if _, err := tx.Roster().AddMember(ctx, course.ID, "u2"); err != nil {
			return err
		}
		_, err := tx.Roster().AddMember(ctx, course.ID, "u9")
		return err
	})
	require.NoError(t, err)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		members, err := tx.Roster().GetMembers(ctx, course.ID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "Ann", members[0].DisplayName)
		assert.Equal(t, domain.RoleOwner, members[0].Role)
		assert.Equal(t, "Robert", members[1].DisplayName)
		assert.Equal(t, "u9", members[2].DisplayName)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_DeleteCourseCascades(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		if _, err := tx.Roster().AddMember(ctx, course.ID, "u2"); err != nil {
			return err
		}
		if _, err := tx.Audit().Append(ctx, course.ID, "u1", "Ann", "u2 has been added"); err != nil {
			return err
		}
		return tx.Roster().DeleteCourse(ctx, course.ID)
	})
	require.NoError(t, err)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		courses, err := tx.Roster().ListCoursesForUser(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, courses)

		_, err = tx.Roster().FindMembership(ctx, course.ID, "u2")
		assert.ErrorIs(t, err, domain.ErrMembershipNotFound)

		err = tx.Roster().DeleteCourse(ctx, course.ID)
		assert.ErrorIs(t, err, domain.ErrCourseNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ListByCourseNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	course := createCourse(t, s, "u1")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		for _, msg := range []string{"first", "second", "third"} {
			if _, err := tx.Audit().Append(ctx, course.ID, "u1", "Ann", msg); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		events, err := tx.Audit().ListByCourse(ctx, course.ID, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "third", events[0].Message)
		assert.Equal(t, "second", events[1].Message)

		all, err := tx.Audit().ListByCourse(ctx, course.ID, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_AppendToMissingCourse(t *testing.T) {
	s := openTestStore(t)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Audit().Append(ctx, "missing", "u1", "Ann", "hello")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrCourseNotFound)
}

func TestStore_LookupUser(t *testing.T) {
	s := openTestStore(t)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Users().Lookup(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)

		require.NoError(t, tx.Users().Upsert(ctx, domain.User{ID: "u1", DisplayName: "Ann"}))
		u, err := tx.Users().Lookup(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ann", u.DisplayName)
		return nil
	})
	require.NoError(t, err)
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	assert.Contains(t, got, "CREATE TABLE a")
	assert.NotContains(t, got, "DROP TABLE")

	assert.Equal(t, "SELECT 1;", upSection("SELECT 1;"))
}

type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestCourseAffected(t *testing.T) {
	driverErr := errors.New("driver lost the row count")

	assert.NoError(t, courseAffected(fakeResult{rows: 1}, "update course"))
	assert.ErrorIs(t, courseAffected(fakeResult{rows: 0}, "update course"), domain.ErrCourseNotFound)

	err := courseAffected(fakeResult{err: driverErr}, "update course")
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, domain.ErrCourseNotFound)
	assert.Contains(t, err.Error(), "update course")
}
