package services

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"gorm.io/gorm"

	"dsolar/internal/storage"
	"dsolar/internal/utils"
)

// PostInput 管理端创建/更新文章的请求体。
type PostInput struct {
	Title      string `json:"title" form:"title"`
	Slug       string `json:"slug" form:"slug"`
	Summary    string `json:"summary" form:"summary"`
	Content    string `json:"content" form:"content"`
	CoverImage string `json:"cover_image" form:"cover_image"`
	Tags       string `json:"tags" form:"tags"`
	Published  *bool  `json:"published" form:"published"`
}

// PostPage 分页结果。
type PostPage struct {
	Posts      []storage.Post `json:"posts"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	Total      int64          `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// RenderedPost 文章详情页数据。
type RenderedPost struct {
	storage.Post
	HTML     template.HTML `json:"html"`
	TagList  []string      `json:"tag_list"`
	ReadMins int           `json:"read_minutes"`
}

// BlogService 博客文章的读写。
type BlogService struct {
	db       *gorm.DB
	renderer *Renderer
	pageSize int
	now      func() time.Time
}

func NewBlogService(db *gorm.DB, renderer *Renderer, pageSize int) *BlogService {
	if pageSize <= 0 {
		pageSize = 9
	}
	return &BlogService{db: db, renderer: renderer, pageSize: pageSize, now: time.Now}
}

// SetClock 供测试注入时间。
func (s *BlogService) SetClock(now func() time.Time) { s.now = now }

// ListPublished 按发布时间倒序分页列出已发布文章（page 从 1 开始）。
func (s *BlogService) ListPublished(ctx context.Context, page int) (*PostPage, error) {
	if page < 1 {
		page = 1
	}
	q := s.db.WithContext(ctx).Model(&storage.Post{}).Where("published = ?", true)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	var posts []storage.Post
	err := q.Order("published_at desc").Order("id desc").
		Limit(s.pageSize).Offset((page - 1) * s.pageSize).Find(&posts).Error
	if err != nil {
		return nil, err
	}
	pages := int((total + int64(s.pageSize) - 1) / int64(s.pageSize))
	return &PostPage{Posts: posts, Page: page, PageSize: s.pageSize, Total: total, TotalPages: pages}, nil
}

// Latest 返回最近 n 篇已发布文章（首页使用）。
func (s *BlogService) Latest(ctx context.Context, n int) ([]storage.Post, error) {
	var posts []storage.Post
	err := s.db.WithContext(ctx).Where("published = ?", true).
		Order("published_at desc").Order("id desc").Limit(n).Find(&posts).Error
	return posts, err
}

// GetPublished 按 slug 读取已发布文章并渲染正文；草稿视为不存在。
func (s *BlogService) GetPublished(ctx context.Context, slug string) (*RenderedPost, error) {
	var p storage.Post
	if err := s.db.WithContext(ctx).Where("slug = ? AND published = ?", slug, true).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return s.render(&p)
}

func (s *BlogService) render(p *storage.Post) (*RenderedPost, error) {
	html, err := s.renderer.Render(p.Content)
	if err != nil {
		return nil, fmt.Errorf("render post %d: %w", p.ID, err)
	}
	words := len(strings.Fields(p.Content))
	mins := words / 200
	if mins < 1 {
		mins = 1
	}
	return &RenderedPost{Post: *p, HTML: html, TagList: splitCSV(p.Tags), ReadMins: mins}, nil
}

// ListAll 管理端列表（含草稿），按更新时间倒序。
func (s *BlogService) ListAll(ctx context.Context) ([]storage.Post, error) {
	var posts []storage.Post
	err := s.db.WithContext(ctx).Order("updated_at desc").Order("id desc").Find(&posts).Error
	return posts, err
}

func (s *BlogService) Get(ctx context.Context, id uint64) (*storage.Post, error) {
	var p storage.Post
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Create 新建文章；未提供 slug 时由标题生成，冲突时追加 -2、-3…
func (s *BlogService) Create(ctx context.Context, authorID uint64, in PostInput) (*storage.Post, error) {
	if err := normalizePost(&in); err != nil {
		return nil, err
	}
	slug, err := s.uniqueSlug(ctx, in.Slug, in.Title, 0)
	if err != nil {
		return nil, err
	}
	p := &storage.Post{
		Slug: slug, Title: in.Title, Summary: in.Summary, Content: in.Content,
		CoverImage: in.CoverImage, Tags: in.Tags, AuthorID: authorID,
	}
	if in.Published != nil && *in.Published {
		s.publish(p)
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// Update 更新文章；slug 仅在显式提供且变化时重新分配。
func (s *BlogService) Update(ctx context.Context, id uint64, in PostInput) (*storage.Post, error) {
	if err := normalizePost(&in); err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Slug != "" && in.Slug != p.Slug {
		slug, err := s.uniqueSlug(ctx, in.Slug, in.Title, p.ID)
		if err != nil {
			return nil, err
		}
		p.Slug = slug
	}
	p.Title = in.Title
	p.Summary = in.Summary
	p.Content = in.Content
	p.CoverImage = in.CoverImage
	p.Tags = in.Tags
	if in.Published != nil {
		if *in.Published {
			s.publish(p)
		} else {
			p.Published = false
		}
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// SetPublished 发布/撤回。首次发布时记录 published_at，撤回后保留。
func (s *BlogService) SetPublished(ctx context.Context, id uint64, published bool) (*storage.Post, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if published {
		s.publish(p)
	} else {
		p.Published = false
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BlogService) publish(p *storage.Post) {
	p.Published = true
	if p.PublishedAt == nil {
		now := s.now()
		p.PublishedAt = &now
	}
}

func (s *BlogService) Delete(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&storage.Post{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizePost(in *PostInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Summary = strings.TrimSpace(in.Summary)
	in.CoverImage = strings.TrimSpace(in.CoverImage)
	in.Slug = utils.Slugify(in.Slug)
	tags := splitCSV(in.Tags)
	for i := range tags {
		tags[i] = strings.ToLower(tags[i])
	}
	in.Tags = strings.Join(tags, ",")
	if in.Title == "" {
		return invalid("title", "required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return invalid("content", "required")
	}
	return nil
}

// uniqueSlug 选取未被其它文章占用的 slug；exceptID 为当前文章（更新时）。
func (s *BlogService) uniqueSlug(ctx context.Context, want, title string, exceptID uint64) (string, error) {
	base := want
	if base == "" {
		base = utils.Slugify(title)
	}
	if base == "" {
		base = "post"
	}
	candidate := base
	for i := 2; i < 1000; i++ {
		var p storage.Post
		err := s.db.WithContext(ctx).Where("slug = ?", candidate).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if p.ID == exceptID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", ErrConflict
}
