// Package testutil provides fakes for the service and repository seams.
package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"tunelink/internal/models"
	"tunelink/internal/repositories"
)

// FakeProvider is a scriptable ProviderService. Unset funcs return nil, nil.
type FakeProvider struct {
	ID              models.ProviderID
	ByURLFunc       func(ctx context.Context, link string) (*models.ProviderResult, error)
	ByISRCFunc      func(ctx context.Context, isrc string) (*models.ProviderResult, error)
	ByUPCFunc       func(ctx context.Context, upc string) (*models.ProviderResult, error)
	ByTitleArtistFn func(ctx context.Context, title, artist string) (*models.ProviderResult, error)
	HealthFunc      func(ctx context.Context) error
}

func (f *FakeProvider) Provider() models.ProviderID { return f.ID }

func (f *FakeProvider) ByURL(ctx context.Context, link string) (*models.ProviderResult, error) {
	if f.ByURLFunc == nil {
		return nil, nil
	}
	return f.ByURLFunc(ctx, link)
}

func (f *FakeProvider) ByISRC(ctx context.Context, isrc string) (*models.ProviderResult, error) {
	if f.ByISRCFunc == nil {
		return nil, nil
	}
	return f.ByISRCFunc(ctx, isrc)
}

func (f *FakeProvider) ByUPC(ctx context.Context, upc string) (*models.ProviderResult, error) {
	if f.ByUPCFunc == nil {
		return nil, nil
	}
	return f.ByUPCFunc(ctx, upc)
}

func (f *FakeProvider) ByTitleArtist(ctx context.Context, title, artist string) (*models.ProviderResult, error) {
	if f.ByTitleArtistFn == nil {
		return nil, nil
	}
	return f.ByTitleArtistFn(ctx, title, artist)
}

func (f *FakeProvider) Health(ctx context.Context) error {
	if f.HealthFunc == nil {
		return nil
	}
	return f.HealthFunc(ctx)
}

// MockLinkIndex is a testify mock for repositories.LinkIndex.
type MockLinkIndex struct {
	mock.Mock
}

func (m *MockLinkIndex) GetPointer(ctx context.Context, link string) (*repositories.PointerRow, error) {
	args := m.Called(ctx, link)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.PointerRow), args.Error(1)
}

func (m *MockLinkIndex) CreatePointer(ctx context.Context, pointer string, lookedUpAt time.Time, links []string) error {
	args := m.Called(ctx, pointer, lookedUpAt, links)
	return args.Error(0)
}

func (m *MockLinkIndex) AddLinks(ctx context.Context, pointer string, links []string) error {
	args := m.Called(ctx, pointer, links)
	return args.Error(0)
}

func (m *MockLinkIndex) TouchPointer(ctx context.Context, pointer string, lookedUpAt time.Time) error {
	args := m.Called(ctx, pointer, lookedUpAt)
	return args.Error(0)
}

func (m *MockLinkIndex) RemovePointer(ctx context.Context, pointer string) error {
	args := m.Called(ctx, pointer)
	return args.Error(0)
}

func (m *MockLinkIndex) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLinkIndex) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRecordStore is a testify mock for repositories.RecordStore.
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Create(ctx context.Context, result *models.UnifiedResult) (string, error) {
	args := m.Called(ctx, result)
	return args.String(0), args.Error(1)
}

func (m *MockRecordStore) Get(ctx context.Context, pointer string) (*models.UnifiedResult, error) {
	args := m.Called(ctx, pointer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UnifiedResult), args.Error(1)
}

func (m *MockRecordStore) UpdateInPlace(ctx context.Context, pointer string, result *models.UnifiedResult) (bool, error) {
	args := m.Called(ctx, pointer, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockRecordStore) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// TrackResult builds a track entry for tests.
func TrackResult(provider models.ProviderID, title, artist, url, isrc string) *models.ProviderResult {
	return &models.ProviderResult{
		Provider:   provider,
		Artist:     artist,
		Title:      title,
		URL:        url,
		ExternalID: isrc,
		IsAlbum:    models.Bool(false),
	}
}

// AlbumResult builds an album entry for tests.
func AlbumResult(provider models.ProviderID, title, artist, url, upc string) *models.ProviderResult {
	return &models.ProviderResult{
		Provider:   provider,
		Artist:     artist,
		Title:      title,
		URL:        url,
		ExternalID: upc,
		IsAlbum:    models.Bool(true),
	}
}
