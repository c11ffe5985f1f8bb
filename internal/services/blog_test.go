package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dsolar/internal/testutil"
)

func boolPtr(b bool) *bool { return &b }

func newBlog(t *testing.T) (*BlogService, *clock) {
	t.Helper()
	svc := NewBlogService(testutil.NewDB(t), NewRenderer(), 2)
	clk := &clock{t: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)}
	svc.SetClock(clk.Now)
	return svc, clk
}

func TestBlogSlugsAndPublishing(t *testing.T) {
	svc, clk := newBlog(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 1, PostInput{Title: "Net Metering Explained", Content: "# Hi", Tags: "Policy, net-metering,"})
	require.NoError(t, err)
	require.Equal(t, "net-metering-explained", a.Slug)
	require.Equal(t, "policy,net-metering", a.Tags)
	require.False(t, a.Published)
	require.Nil(t, a.PublishedAt)

	b, err := svc.Create(ctx, 1, PostInput{Title: "Net metering explained!", Content: "again", Published: boolPtr(true)})
	require.NoError(t, err)
	require.Equal(t, "net-metering-explained-2", b.Slug)
	require.NotNil(t, b.PublishedAt)

	_, err = svc.GetPublished(ctx, a.Slug)
	require.ErrorIs(t, err, ErrNotFound)

	clk.Advance(time.Hour)
	a, err = svc.SetPublished(ctx, a.ID, true)
	require.NoError(t, err)
	first := *a.PublishedAt
	a, err = svc.SetPublished(ctx, a.ID, false)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	a, err = svc.SetPublished(ctx, a.ID, true)
	require.NoError(t, err)
	require.True(t, first.Equal(*a.PublishedAt), "published_at kept on republish")

	_, err = svc.Create(ctx, 1, PostInput{Title: " ", Content: "x"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestBlogListingAndRendering(t *testing.T) {
	svc, clk := newBlog(t)
	ctx := context.Background()
	for _, title := range []string{"One", "Two", "Three"} {
		clk.Advance(time.Minute)
		_, err := svc.Create(ctx, 1, PostInput{Title: title, Content: "Body of " + title, Published: boolPtr(true)})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, 1, PostInput{Title: "Draft", Content: "wip"})
	require.NoError(t, err)

	page, err := svc.ListPublished(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Posts, 2)
	require.Equal(t, "Three", page.Posts[0].Title)

	page, err = svc.ListPublished(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	require.Equal(t, "One", page.Posts[0].Title)

	latest, err := svc.Latest(ctx, 5)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	p, err := svc.Create(ctx, 1, PostInput{
		Title:     "Markdown",
		Content:   "## Why solar\n\n<script>alert(1)</script>\n\nRead [more](https://example.com).",
		Published: boolPtr(true),
	})
	require.NoError(t, err)
	r, err := svc.GetPublished(ctx, p.Slug)
	require.NoError(t, err)
	require.Contains(t, string(r.HTML), `<h2 id="why-solar">`)
	require.NotContains(t, string(r.HTML), "<script>")
	require.Contains(t, string(r.HTML), `rel="nofollow`)
	require.Equal(t, 1, r.ReadMins)

	require.NoError(t, svc.Delete(ctx, p.ID))
	require.ErrorIs(t, svc.Delete(ctx, p.ID), ErrNotFound)
}

func TestBlogUpdateKeepsOrRenamesSlug(t *testing.T) {
	svc, _ := newBlog(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, 1, PostInput{Title: "Original", Content: "x"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, PostInput{Title: "Taken", Content: "x"})
	require.NoError(t, err)

	p, err = svc.Update(ctx, p.ID, PostInput{Title: "Renamed", Content: "y"})
	require.NoError(t, err)
	require.Equal(t, "original", p.Slug)
	p, err = svc.Update(ctx, p.ID, PostInput{Title: "Renamed", Slug: "Taken", Content: "y"})
	require.NoError(t, err)
	require.Equal(t, "taken-2", p.Slug)
	_, err = svc.Update(ctx, 999, PostInput{Title: "x", Content: "y"})
	require.ErrorIs(t, err, ErrNotFound)
}
