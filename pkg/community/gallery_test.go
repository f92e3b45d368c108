package community_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/inkwell/pkg/community"
)

func bloom(t *testing.T, manager *community.Manager, author *community.Identity, title string) *community.Writing {
	t.Helper()
	w, err := manager.CreateWriting(context.Background(), author, community.WritingInput{
		Title: title, Body: "text", Stage: community.StageBloom,
	})
	require.NoError(t, err)
	return w
}

func TestManager_WritingCRUD(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	author := writer("author")

	_, err := manager.CreateWriting(ctx, nil, community.WritingInput{Title: "x"})
	assert.ErrorIs(t, err, community.ErrUnauthenticated)
	_, err = manager.CreateWriting(ctx, author, community.WritingInput{Title: " "})
	assert.ErrorIs(t, err, community.ErrInvalidInput)
	_, err = manager.CreateWriting(ctx, author, community.WritingInput{Title: "x", Stage: "wilted"})
	assert.ErrorIs(t, err, community.ErrInvalidInput)

	seed, err := manager.CreateWriting(ctx, author, community.WritingInput{Title: "seedling"})
	require.NoError(t, err)
	assert.Equal(t, community.StageSeed, seed.Stage)
	assert.Equal(t, community.GalleryNone, seed.GalleryStatus)

	_, err = manager.GetWriting(ctx, writer("reader"), seed.ID)
	assert.ErrorIs(t, err, community.ErrNotFound)

	sprout := community.StageSprout
	title := "grown"
	updated, err := manager.UpdateWriting(ctx, author, seed.ID, community.WritingPatch{Stage: &sprout, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "grown", updated.Title)

	got, err := manager.GetWriting(ctx, writer("reader"), seed.ID)
	require.NoError(t, err)
	assert.Equal(t, community.StageSprout, got.Stage)
	_, err = manager.GetWriting(ctx, nil, seed.ID)
	assert.ErrorIs(t, err, community.ErrNotFound)

	_, err = manager.UpdateWriting(ctx, writer("reader"), seed.ID, community.WritingPatch{Title: &title})
	assert.ErrorIs(t, err, community.ErrForbidden)

	bloom(t, manager, author, "public")
	mine, err := manager.ListWritingsByAuthor(ctx, author, "author")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	public, err := manager.ListWritingsByAuthor(ctx, nil, "author")
	require.NoError(t, err)
	assert.Len(t, public, 1)

	assert.ErrorIs(t, manager.DeleteWriting(ctx, writer("reader"), seed.ID), community.ErrForbidden)
	assert.NoError(t, manager.DeleteWriting(ctx, author, seed.ID))
	assert.ErrorIs(t, manager.DeleteWriting(ctx, author, seed.ID), community.ErrNotFound)
}

func TestManager_GalleryWorkflow(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()
	author := writer("author")

	seed, err := manager.CreateWriting(ctx, author, community.WritingInput{Title: "seedling"})
	require.NoError(t, err)
	_, err = manager.SubmitToGallery(ctx, author, seed.ID, "")
	assert.ErrorIs(t, err, community.ErrInvalidInput, "only blooms may be submitted")

	w := bloom(t, manager, author, "first")
	_, err = manager.SubmitToGallery(ctx, writer("other"), w.ID, "")
	assert.ErrorIs(t, err, community.ErrForbidden)

	sub, err := manager.SubmitToGallery(ctx, author, w.ID, "please")
	require.NoError(t, err)
	assert.Equal(t, community.SubmissionPending, sub.Status)
	_, err = manager.SubmitToGallery(ctx, author, w.ID, "")
	assert.ErrorIs(t, err, community.ErrConflict)

	_, err = manager.ListSubmissions(ctx, author, "", 0, 0)
	assert.ErrorIs(t, err, community.ErrForbidden)
	pending, err := manager.ListSubmissions(ctx, admin, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = manager.ReviewSubmission(ctx, author, sub.ID, true, "")
	assert.ErrorIs(t, err, community.ErrForbidden)

	clock.Advance(time.Minute)
	reviewed, err := manager.ReviewSubmission(ctx, admin, sub.ID, true, "lovely")
	require.NoError(t, err)
	assert.Equal(t, community.SubmissionApproved, reviewed.Status)
	assert.Equal(t, "admin", reviewed.ReviewerID)
	require.NotNil(t, reviewed.ReviewedAt)

	_, err = manager.ReviewSubmission(ctx, admin, sub.ID, false, "")
	assert.ErrorIs(t, err, community.ErrConflict)

	gallery, err := manager.ListGallery(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Equal(t, w.ID, gallery[0].ID)

	t.Run("hiding removes from gallery", func(t *testing.T) {
		_, err := manager.SetWritingHidden(ctx, author, w.ID, true)
		assert.ErrorIs(t, err, community.ErrForbidden)

		hidden, err := manager.SetWritingHidden(ctx, admin, w.ID, true)
		require.NoError(t, err)
		assert.True(t, hidden.Hidden)
		gallery, err := manager.ListGallery(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, gallery)

		_, err = manager.GetWriting(ctx, writer("reader"), w.ID)
		assert.ErrorIs(t, err, community.ErrNotFound)
		_, err = manager.GetWriting(ctx, author, w.ID)
		assert.NoError(t, err, "authors still see their hidden writing")

		_, err = manager.SetWritingHidden(ctx, admin, w.ID, false)
		require.NoError(t, err)
		gallery, err = manager.ListGallery(ctx, 0, 0)
		require.NoError(t, err)
		assert.Len(t, gallery, 1)
	})

	t.Run("leaving bloom withdraws from gallery", func(t *testing.T) {
		sprout := community.StageSprout
		updated, err := manager.UpdateWriting(ctx, author, w.ID, community.WritingPatch{Stage: &sprout})
		require.NoError(t, err)
		assert.Equal(t, community.GalleryNone, updated.GalleryStatus)
		gallery, err := manager.ListGallery(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, gallery)
	})
}

func TestManager_RejectAndResubmit(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	author := writer("author")
	w := bloom(t, manager, author, "draft")

	sub, err := manager.SubmitToGallery(ctx, author, w.ID, "")
	require.NoError(t, err)
	rejected, err := manager.ReviewSubmission(ctx, admin, sub.ID, false, "needs work")
	require.NoError(t, err)
	assert.Equal(t, community.SubmissionRejected, rejected.Status)
	assert.Equal(t, "needs work", rejected.Reason)

	got, err := manager.GetWriting(ctx, author, w.ID)
	require.NoError(t, err)
	assert.Equal(t, community.GalleryRejected, got.GalleryStatus)

	_, err = manager.SubmitToGallery(ctx, author, w.ID, "revised")
	assert.NoError(t, err)
}

func TestManager_LeavingBloomWithdrawsSubmission(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()
	author := writer("author")
	w := bloom(t, manager, author, "draft")

	first, err := manager.SubmitToGallery(ctx, author, w.ID, "")
	require.NoError(t, err)

	sprout, blooming := community.StageSprout, community.StageBloom
	_, err = manager.UpdateWriting(ctx, author, w.ID, community.WritingPatch{Stage: &sprout})
	require.NoError(t, err)
	pending, err := manager.ListSubmissions(ctx, admin, community.SubmissionPending, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	withdrawn, err := manager.ListSubmissions(ctx, admin, community.SubmissionWithdrawn, 0, 0)
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, first.ID, withdrawn[0].ID)

	clock.Advance(time.Minute)
	_, err = manager.UpdateWriting(ctx, author, w.ID, community.WritingPatch{Stage: &blooming})
	require.NoError(t, err)
	second, err := manager.SubmitToGallery(ctx, author, w.ID, "again")
	require.NoError(t, err)
	pending, err = manager.ListSubmissions(ctx, admin, community.SubmissionPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1, "one pending submission per writing")
	assert.Equal(t, second.ID, pending[0].ID)

	_, err = manager.ReviewSubmission(ctx, admin, second.ID, true, "")
	require.NoError(t, err)

	// The withdrawn request cannot overwrite the approval
	_, err = manager.ReviewSubmission(ctx, admin, first.ID, false, "")
	assert.ErrorIs(t, err, community.ErrConflict)

	gallery, err := manager.ListGallery(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	got, err := manager.GetWriting(ctx, author, w.ID)
	require.NoError(t, err)
	assert.Equal(t, community.GalleryApproved, got.GalleryStatus)
}

func TestManager_ReviewRequiresPendingWriting(t *testing.T) {
	manager, storage, _ := newTestManager(t)
	ctx := context.Background()
	author := writer("author")
	w := bloom(t, manager, author, "draft")

	sub, err := manager.SubmitToGallery(ctx, author, w.ID, "")
	require.NoError(t, err)

	// A writing update that landed without its withdrawal
	stored, err := storage.GetWriting(ctx, w.ID)
	require.NoError(t, err)
	stored.GalleryStatus = community.GalleryNone
	require.NoError(t, storage.UpdateWriting(ctx, stored))

	_, err = manager.ReviewSubmission(ctx, admin, sub.ID, true, "")
	assert.ErrorIs(t, err, community.ErrConflict)

	// Resubmitting clears the leftover request
	_, err = manager.SubmitToGallery(ctx, author, w.ID, "")
	require.NoError(t, err)
	left, err := storage.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, community.SubmissionWithdrawn, left.Status)
}

func TestManager_ApproveIneligible(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	author := writer("author")
	w := bloom(t, manager, author, "draft")

	sub, err := manager.SubmitToGallery(ctx, author, w.ID, "")
	require.NoError(t, err)
	_, err = manager.SetWritingHidden(ctx, admin, w.ID, true)
	require.NoError(t, err)

	_, err = manager.ReviewSubmission(ctx, admin, sub.ID, true, "")
	assert.ErrorIs(t, err, community.ErrInvalidInput)
}

func TestManager_Wall(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()
	member := writer("member")

	_, err := manager.PostToWall(ctx, member, "hello")
	assert.ErrorIs(t, err, community.ErrNotMember)
	_, err = manager.ListWall(ctx, member, nil, 0)
	assert.ErrorIs(t, err, community.ErrNotMember)

	_, err = manager.ApplySubscription(ctx, activeSub("sub_1", "member", "evt_1", clock.now))
	require.NoError(t, err)

	_, err = manager.PostToWall(ctx, member, "   ")
	assert.ErrorIs(t, err, community.ErrInvalidInput)

	var posts []*community.WallPost
	for _, body := range []string{"one", "two", "three"} {
		p, err := manager.PostToWall(ctx, member, body)
		require.NoError(t, err)
		posts = append(posts, p)
		clock.Advance(time.Minute)
	}

	page, err := manager.ListWall(ctx, member, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Body)
	assert.Equal(t, "two", page[1].Body)

	before := page[1].CreatedAt
	page, err = manager.ListWall(ctx, member, &before, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Body)

	assert.ErrorIs(t, manager.RemoveWallPost(ctx, writer("other"), posts[0].ID), community.ErrForbidden)
	assert.NoError(t, manager.RemoveWallPost(ctx, member, posts[0].ID))
	assert.NoError(t, manager.RemoveWallPost(ctx, admin, posts[1].ID))
	assert.ErrorIs(t, manager.RemoveWallPost(ctx, admin, posts[1].ID), community.ErrNotFound)

	// Admins read the wall without a subscription
	page, err = manager.ListWall(ctx, admin, nil, 0)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestManager_Tips(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()
	author := writer("author")
	reader := writer("reader")
	_, err := manager.EnsureProfile(ctx, author)
	require.NoError(t, err)
	w := bloom(t, manager, author, "poem")
	seed, err := manager.CreateWriting(ctx, author, community.WritingInput{Title: "secret"})
	require.NoError(t, err)

	t.Run("validate", func(t *testing.T) {
		_, err := manager.ValidateTip(ctx, author, "author", "")
		assert.ErrorIs(t, err, community.ErrInvalidInput)
		_, err = manager.ValidateTip(ctx, reader, "ghost", "")
		assert.ErrorIs(t, err, community.ErrNotFound)
		_, err = manager.ValidateTip(ctx, reader, "author", seed.ID)
		assert.ErrorIs(t, err, community.ErrNotFound)

		p, err := manager.ValidateTip(ctx, reader, "author", w.ID)
		require.NoError(t, err)
		assert.Equal(t, "author", p.ID)
	})

	t.Run("record is idempotent", func(t *testing.T) {
		tip := &community.Tip{ID: "cs_1", TipperID: "reader", WriterID: "author", AmountCents: 500, Currency: "USD"}
		recorded, err := manager.RecordTip(ctx, tip)
		require.NoError(t, err)
		assert.True(t, recorded)

		recorded, err = manager.RecordTip(ctx, &community.Tip{ID: "cs_1", WriterID: "author", AmountCents: 500, Currency: "usd"})
		require.NoError(t, err)
		assert.False(t, recorded)

		_, err = manager.RecordTip(ctx, &community.Tip{ID: "cs_2", WriterID: "author", AmountCents: 0})
		assert.ErrorIs(t, err, community.ErrInvalidInput)
		_, err = manager.RecordTip(ctx, &community.Tip{ID: "cs_3", TipperID: "author", WriterID: "author", AmountCents: 100})
		assert.ErrorIs(t, err, community.ErrInvalidInput)

		_, err = manager.RecordTip(ctx, &community.Tip{ID: "cs_4", WriterID: "author", AmountCents: 250, Currency: "eur"})
		require.NoError(t, err)
	})

	t.Run("summary", func(t *testing.T) {
		_, err := manager.TipsForWriter(ctx, reader, "author")
		assert.ErrorIs(t, err, community.ErrForbidden)

		summary, err := manager.TipsForWriter(ctx, author, "author")
		require.NoError(t, err)
		assert.Len(t, summary.Tips, 2)
		assert.Equal(t, int64(500), summary.TotalCents["usd"])
		assert.Equal(t, int64(250), summary.TotalCents["eur"])

		_, err = manager.TipsForWriter(ctx, admin, "author")
		assert.NoError(t, err)
	})
}

func TestManager_AdminOverview(t *testing.T) {
	manager, _, clock := newTestManager(t)
	ctx := context.Background()
	author := writer("author")

	w := bloom(t, manager, author, "poem")
	_, err := manager.SubmitToGallery(ctx, author, w.ID, "")
	require.NoError(t, err)
	_, err = manager.RecordTip(ctx, &community.Tip{ID: "cs_1", WriterID: "author", AmountCents: 300, Currency: "usd"})
	require.NoError(t, err)
	_, err = manager.PostToWall(ctx, admin, "welcome")
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = manager.AdminOverview(ctx, author)
	assert.ErrorIs(t, err, community.ErrForbidden)

	overview, err := manager.AdminOverview(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, overview.PendingSubmissions, 1)
	assert.Len(t, overview.RecentTips, 1)
	assert.Len(t, overview.RecentWallPosts, 1)
}
