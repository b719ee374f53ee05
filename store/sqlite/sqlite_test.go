package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivehub/school-engine/school"
	"github.com/drivehub/school-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSchool(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	require.NoError(t, store.SaveSchool(context.Background(), school.School{
		ID: id, Name: "Auto-Ecole " + id, Slug: "ae-" + id,
	}))
}

func seedStudent(t *testing.T, store *sqlite.Store, schoolID, id string, hours int) {
	t.Helper()
	require.NoError(t, store.SaveUser(context.Background(), school.User{
		ID: id, SchoolID: schoolID, Name: "Student " + id,
		Email: id + "@example.com", Role: school.RoleStudent, HoursRemaining: hours,
	}))
}

func seedSlot(t *testing.T, store *sqlite.Store, sl school.Slot) {
	t.Helper()
	if sl.EndsAt.IsZero() {
		sl.EndsAt = sl.StartsAt.Add(school.SlotDuration)
	}
	require.NoError(t, store.SaveSlot(context.Background(), sl))
}

func hoursOf(t *testing.T, store *sqlite.Store, schoolID, userID string) int {
	t.Helper()
	u, err := store.GetUser(context.Background(), schoolID, userID)
	require.NoError(t, err)
	return u.HoursRemaining
}

// =============================================================================
// SCHOOLS AND PACKAGES
// =============================================================================

func TestGetSchool(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")

	sc, err := store.GetSchool(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "Auto-Ecole s1", sc.Name)
	assert.Equal(t, "ae-s1", sc.Slug)

	missing, err := store.GetSchool(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetPackage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedSchool(t, store, "s2")
	require.NoError(t, store.SavePackage(ctx, school.Package{
		ID: "pack-5h", SchoolID: "s1", Name: "Forfait 5h",
		Hours: 5, Price: decimal.NewFromInt(225),
	}))

	p, err := store.GetPackage(ctx, "s1", "pack-5h")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 5, p.Hours)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(225)))

	foreign, err := store.GetPackage(ctx, "s2", "pack-5h")
	require.NoError(t, err)
	assert.Nil(t, foreign, "catalog reads stay inside the school")
}

// =============================================================================
// ATOMIC HOURS OPERATIONS
// =============================================================================

func TestDecrementHours_GuardsAgainstNegative(t *testing.T) {
	// GIVEN: A student with 1 hour remaining
	// WHEN: Decrementing twice
	// THEN: The second decrement fails and the balance stays at 0

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 1)

	require.NoError(t, store.DecrementHours(ctx, "s1", "stu-1", 1))
	assert.Equal(t, 0, hoursOf(t, store, "s1", "stu-1"))

	err := store.DecrementHours(ctx, "s1", "stu-1", 1)
	assert.ErrorIs(t, err, school.ErrInsufficientHours)

	var insErr *school.InsufficientHoursError
	assert.ErrorAs(t, err, &insErr)
	assert.Equal(t, 0, insErr.Available)
	assert.Equal(t, 0, hoursOf(t, store, "s1", "stu-1"))
}

func TestIncrementHours_UnknownUser(t *testing.T) {
	store := newTestStore(t)
	seedSchool(t, store, "s1")

	err := store.IncrementHours(context.Background(), "s1", "missing", 5)
	assert.ErrorIs(t, err, school.ErrUserNotFound)
}

func TestHoursOps_ScopedToSchool(t *testing.T) {
	// GIVEN: A student in school s1
	// WHEN: Mutating their balance through school s2
	// THEN: The operation fails and the balance is untouched

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedSchool(t, store, "s2")
	seedStudent(t, store, "s1", "stu-1", 3)

	assert.ErrorIs(t, store.IncrementHours(ctx, "s2", "stu-1", 1), school.ErrUserNotFound)
	assert.ErrorIs(t, store.DecrementHours(ctx, "s2", "stu-1", 1), school.ErrUserNotFound)
	assert.Equal(t, 3, hoursOf(t, store, "s1", "stu-1"))
}

// =============================================================================
// RESERVE / RELEASE TRANSACTIONS
// =============================================================================

func TestReserveSlot_PairsClaimWithDecrement(t *testing.T) {
	// GIVEN: An open slot and a student with 3 hours
	// WHEN: Reserving
	// THEN: The slot is reserved for the student and the balance is 2

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 3)
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1",
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
	})

	require.NoError(t, store.ReserveSlot(ctx, "s1", "slot-1", "stu-1"))

	sl, err := store.GetSlot(ctx, "s1", "slot-1")
	require.NoError(t, err)
	assert.True(t, sl.Reserved)
	assert.Equal(t, "stu-1", sl.StudentID)
	assert.Equal(t, 2, hoursOf(t, store, "s1", "stu-1"))
}

func TestReserveSlot_InsufficientHours_NothingCommits(t *testing.T) {
	// GIVEN: A student with zero hours
	// WHEN: Reserving an open slot
	// THEN: The whole transaction rolls back; the slot stays open

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-0", 0)
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1",
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
	})

	err := store.ReserveSlot(ctx, "s1", "slot-1", "stu-0")
	assert.ErrorIs(t, err, school.ErrInsufficientHours)

	sl, err := store.GetSlot(ctx, "s1", "slot-1")
	require.NoError(t, err)
	assert.False(t, sl.Reserved, "claim must roll back with the failed decrement")
	assert.Empty(t, sl.StudentID)
}

func TestReserveSlot_AlreadyReserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 3)
	seedStudent(t, store, "s1", "stu-2", 3)
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1",
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
	})

	require.NoError(t, store.ReserveSlot(ctx, "s1", "slot-1", "stu-1"))

	err := store.ReserveSlot(ctx, "s1", "slot-1", "stu-2")
	assert.ErrorIs(t, err, school.ErrSlotAlreadyReserved)
	assert.Equal(t, 3, hoursOf(t, store, "s1", "stu-2"), "loser's balance untouched")
}

func TestReleaseSlot_RefundsAssignedStudent(t *testing.T) {
	// GIVEN: A reserved slot
	// WHEN: Releasing it
	// THEN: The slot returns to open and the student gets the hour back

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 3)
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1",
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
	})
	require.NoError(t, store.ReserveSlot(ctx, "s1", "slot-1", "stu-1"))
	require.Equal(t, 2, hoursOf(t, store, "s1", "stu-1"))

	studentID, err := store.ReleaseSlot(ctx, "s1", "slot-1")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", studentID)

	sl, err := store.GetSlot(ctx, "s1", "slot-1")
	require.NoError(t, err)
	assert.False(t, sl.Reserved)
	assert.Empty(t, sl.StudentID)
	assert.Equal(t, 3, hoursOf(t, store, "s1", "stu-1"), "net effect of reserve+cancel is zero")
}

func TestReleaseSlot_CompletedSlotRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1", StudentID: "stu-1",
		StartsAt: time.Now().UTC().Add(-2 * time.Hour),
		Reserved: true, Passed: true,
	})

	_, err := store.ReleaseSlot(ctx, "s1", "slot-1")
	assert.ErrorIs(t, err, school.ErrSlotAlreadyCompleted)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestMarkSlotsPassed_EndTimeCutoff(t *testing.T) {
	// GIVEN: A reserved slot that ended, a reserved slot still running,
	//        and an open slot in the past
	// WHEN: Sweeping
	// THEN: Only the elapsed reserved slot flips to passed

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	seedSlot(t, store, school.Slot{
		ID: "elapsed", SchoolID: "s1", InstructorID: "inst-1", StudentID: "stu-1",
		StartsAt: now.Add(-3 * time.Hour), Reserved: true,
	})
	seedSlot(t, store, school.Slot{
		ID: "running", SchoolID: "s1", InstructorID: "inst-1", StudentID: "stu-2",
		StartsAt: now.Add(-30 * time.Minute), Reserved: true,
	})
	seedSlot(t, store, school.Slot{
		ID: "open-past", SchoolID: "s1", InstructorID: "inst-1",
		StartsAt: now.Add(-3 * time.Hour),
	})

	swept, err := store.MarkSlotsPassed(ctx, now)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "elapsed", swept[0].ID)
	assert.Equal(t, "s1", swept[0].SchoolID)

	elapsed, _ := store.GetSlot(ctx, "s1", "elapsed")
	running, _ := store.GetSlot(ctx, "s1", "running")
	openPast, _ := store.GetSlot(ctx, "s1", "open-past")
	assert.True(t, elapsed.Passed)
	assert.Equal(t, "stu-1", elapsed.StudentID, "sweep never touches the assignment")
	assert.False(t, running.Passed, "slot still in progress at end-time cutoff")
	assert.False(t, openPast.Passed, "open slots are not sweep candidates")
}

func TestMarkSlotsPassed_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	now := time.Now().UTC()

	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1", StudentID: "stu-1",
		StartsAt: now.Add(-3 * time.Hour), Reserved: true,
	})

	first, err := store.MarkSlotsPassed(ctx, now)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := store.MarkSlotsPassed(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, second, "already-passed slots are excluded")

	sl, _ := store.GetSlot(ctx, "s1", "slot-1")
	assert.True(t, sl.Passed, "passed is monotonic")
}

// =============================================================================
// COMMENTS
// =============================================================================

func TestSetSlotComment_WriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1", StudentID: "stu-1",
		StartsAt: time.Now().UTC().Add(-2 * time.Hour), Reserved: true, Passed: true,
	})

	require.NoError(t, store.SetSlotComment(ctx, "s1", "slot-1", "good clutch control"))

	err := store.SetSlotComment(ctx, "s1", "slot-1", "revised opinion")
	assert.ErrorIs(t, err, school.ErrCommentExists)

	sl, _ := store.GetSlot(ctx, "s1", "slot-1")
	assert.Equal(t, "good clutch control", sl.Comment)
}

func TestSetSlotComment_RequiresCompletedSlot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedSlot(t, store, school.Slot{
		ID: "slot-1", SchoolID: "s1", InstructorID: "inst-1",
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
	})

	err := store.SetSlotComment(ctx, "s1", "slot-1", "too early")
	assert.ErrorIs(t, err, school.ErrSlotNotCompleted)
}

// =============================================================================
// PAYMENT GRANT
// =============================================================================

func paidPayment(ref string) school.Payment {
	return school.Payment{
		ID:                 "pay-" + ref,
		SchoolID:           "s1",
		UserID:             "stu-1",
		PackageID:          "pack-5h",
		Amount:             decimal.NewFromInt(225),
		Currency:           "EUR",
		Method:             "stripe",
		Status:             school.PaymentPaid,
		ProviderPaymentRef: ref,
	}
}

func TestRecordPaymentGrant_GrantsHoursAndSetsPackage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 2)

	require.NoError(t, store.RecordPaymentGrant(ctx, paidPayment("pi_1"), 5))

	u, err := store.GetUser(ctx, "s1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 7, u.HoursRemaining)
	assert.Equal(t, "pack-5h", u.PackageID)

	p, err := store.GetPaymentByProviderRef(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, school.PaymentPaid, p.Status)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(225)))
}

func TestRecordPaymentGrant_DuplicateReference(t *testing.T) {
	// GIVEN: A payment reference already recorded
	// WHEN: Recording it again (provider redelivery)
	// THEN: ErrDuplicatePayment, no second row, no second grant

	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 0)

	require.NoError(t, store.RecordPaymentGrant(ctx, paidPayment("pi_dup"), 5))
	assert.Equal(t, 5, hoursOf(t, store, "s1", "stu-1"))

	second := paidPayment("pi_dup")
	second.ID = "pay-other-id"
	err := store.RecordPaymentGrant(ctx, second, 5)
	assert.ErrorIs(t, err, school.ErrDuplicatePayment)

	assert.Equal(t, 5, hoursOf(t, store, "s1", "stu-1"), "hours granted exactly once")

	list, err := store.ListPayments(ctx, "s1", "stu-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// =============================================================================
// CUSTOMER MAPPING
// =============================================================================

func TestResolveCustomerRef(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSchool(t, store, "s1")
	seedStudent(t, store, "s1", "stu-1", 0)
	require.NoError(t, store.SaveCustomerRef(ctx, "cus_1", "s1", "stu-1"))

	schoolID, userID, err := store.ResolveCustomerRef(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "s1", schoolID)
	assert.Equal(t, "stu-1", userID)

	_, _, err = store.ResolveCustomerRef(ctx, "cus_missing")
	assert.ErrorIs(t, err, school.ErrUnknownCustomer)
}
