package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

func fineTitle(id string) domain.Title {
	return domain.Title{ID: id, Tier: domain.TierFine, CatalogID: "cat-" + id}
}

func TestRankedList_InsertRejectsTierMismatch(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierLiked, At(Placement{}))
	assert.ErrorIs(t, err, domain.ErrInvalidTier)
	assert.Equal(t, 0, list.Size())
}

func TestRankedList_InsertRejectsDuplicate(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	require.NoError(t, err)
	_, err = list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	assert.ErrorIs(t, err, domain.ErrAlreadyRanked)
}

func TestRankedList_InsertRejectsBadPlacement(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{Index: 3}))
	assert.Error(t, err)
	_, err = list.Insert(fineTitle("a"), domain.TierFine, At(Placement{Index: 0, Tied: true}))
	assert.Error(t, err)
	assert.Equal(t, 0, list.Size())
}

func TestRankedList_InsertReportsScoreChanges(t *testing.T) {
	list := NewRankedList("u1")
	m, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	require.NoError(t, err)
	require.Len(t, m.Changes, 1)
	assert.Equal(t, Added, m.Changes[0].Kind)
	assert.InDelta(t, 5.45, m.Changes[0].Title.Score, 1e-9)

	m, err = list.Insert(fineTitle("b"), domain.TierFine, At(Placement{Index: 0}))
	require.NoError(t, err)
	require.Len(t, m.Changes, 2)
	assert.Equal(t, Added, m.Changes[0].Kind)
	assert.Equal(t, "b", m.Changes[0].Title.ID)
	assert.Equal(t, Updated, m.Changes[1].Kind)
	assert.Equal(t, "a", m.Changes[1].Title.ID)
	assert.InDelta(t, 5.45, m.Changes[1].OldScore, 1e-9)
	assert.InDelta(t, 4.0, m.Changes[1].Title.Score, 1e-9)
}

func TestRankedList_RemoveRecomputesVacatedTier(t *testing.T) {
	list := NewRankedList("u1")
	for i, id := range []string{"a", "b", "c"} {
		_, err := list.Insert(fineTitle(id), domain.TierFine, At(Placement{Index: i}))
		require.NoError(t, err)
	}
	_, err := list.Insert(domain.Title{ID: "z", Tier: domain.TierLiked}, domain.TierLiked, At(Placement{}))
	require.NoError(t, err)
	likedVersion := list.Version(domain.TierLiked)

	m, err := list.Remove("b")
	require.NoError(t, err)
	assert.Equal(t, []domain.Tier{domain.TierFine}, m.Tiers)
	assert.Equal(t, Removed, m.Changes[0].Kind)
	assert.InDelta(t, 5.45, m.Changes[0].OldScore, 1e-9)

	members := list.TierMembers(domain.TierFine)
	require.Equal(t, []string{"a", "c"}, ids(members))
	assert.InDelta(t, 6.9, members[0].Score, 1e-9)
	assert.InDelta(t, 4.0, members[1].Score, 1e-9)
	assert.Equal(t, likedVersion, list.Version(domain.TierLiked))
}

func TestRankedList_RemoveUnknown(t *testing.T) {
	_, err := NewRankedList("u1").Remove("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRankedList_RemoveKeepsTieGroupsConsistent(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	require.NoError(t, err)
	_, err = list.Insert(fineTitle("b"), domain.TierFine, At(Placement{Index: 1, Tied: true}))
	require.NoError(t, err)
	_, err = list.Insert(fineTitle("c"), domain.TierFine, At(Placement{Index: 2, Tied: true}))
	require.NoError(t, err)

	_, err = list.Remove("a")
	require.NoError(t, err)
	members := list.TierMembers(domain.TierFine)
	require.Equal(t, []string{"b", "c"}, ids(members))
	assert.False(t, members[0].TiedWithPrevious)
	assert.True(t, members[1].TiedWithPrevious)

	_, err = list.Insert(fineTitle("d"), domain.TierFine, At(Placement{Index: 1, Tied: true}))
	require.NoError(t, err)
	_, err = list.Insert(fineTitle("e"), domain.TierFine, At(Placement{Index: 2, Tied: true}))
	require.NoError(t, err)
	_, err = list.Remove("d")
	require.NoError(t, err)
	members = list.TierMembers(domain.TierFine)
	require.Equal(t, []string{"b", "e", "c"}, ids(members))
	assert.True(t, members[1].TiedWithPrevious)
	assert.Equal(t, members[0].Score, members[1].Score)
}

func TestRankedList_StrictInsertSplitsTieGroup(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	require.NoError(t, err)
	_, err = list.Insert(fineTitle("b"), domain.TierFine, At(Placement{Index: 1, Tied: true}))
	require.NoError(t, err)
	_, err = list.Insert(fineTitle("c"), domain.TierFine, At(Placement{Index: 1}))
	require.NoError(t, err)

	members := list.TierMembers(domain.TierFine)
	require.Equal(t, []string{"a", "c", "b"}, ids(members))
	assert.False(t, members[2].TiedWithPrevious)
	require.NoError(t, CheckTier(members, domain.TierFine))
}

func TestRestore_RecomputesFromOrder(t *testing.T) {
	stored := []domain.Title{
		{ID: "l1", Tier: domain.TierLiked, Score: 1},
		{ID: "f1", Tier: domain.TierFine, Score: 9, TiedWithPrevious: true},
		{ID: "f2", Tier: domain.TierFine},
	}
	list, err := Restore("u1", stored)
	require.NoError(t, err)

	l1, _ := list.Get("l1")
	assert.InDelta(t, 8.45, l1.Score, 1e-9)
	fine := list.TierMembers(domain.TierFine)
	assert.False(t, fine[0].TiedWithPrevious)
	assert.InDelta(t, 6.9, fine[0].Score, 1e-9)
	assert.InDelta(t, 4.0, fine[1].Score, 1e-9)

	_, err = Restore("u1", []domain.Title{{ID: "x", Tier: "meh"}})
	assert.ErrorIs(t, err, domain.ErrInvalidTier)
}

func TestRankedList_FindByCatalogID(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	require.NoError(t, err)

	got, ok := list.FindByCatalogID("cat-a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	_, ok = list.FindByCatalogID("")
	assert.False(t, ok)
}

func TestRankedList_TierMembersIsACopy(t *testing.T) {
	list := NewRankedList("u1")
	_, err := list.Insert(fineTitle("a"), domain.TierFine, At(Placement{}))
	require.NoError(t, err)

	view := list.TierMembers(domain.TierFine)
	view[0].Score = 0
	again := list.TierMembers(domain.TierFine)
	assert.InDelta(t, 5.45, again[0].Score, 1e-9)
}
