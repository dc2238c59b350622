package source

import (
	"context"
	"sync"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
)

// MockSource provides a configurable Source for testing.
type MockSource struct {
	mu sync.Mutex

	// Response configuration. Pages are served in order; the page index
	// resets when a listing starts without a page token.
	Pages  []*Page
	Groups []models.ProviderGroup

	// Error injection. ErrAtPage fires when the given page index is
	// requested (use with models.ErrResumeInvalidated to test recovery).
	ListError   error
	GroupsError error
	ErrAtPage   int
	PageErr     error

	// Request tracking
	PageRequests  []PageCursor
	GroupRequests int

	pageIndex int
}

// NewMockSource creates a mock contact source.
func NewMockSource() *MockSource {
	return &MockSource{ErrAtPage: -1}
}

// ListPage serves the next configured page.
func (m *MockSource) ListPage(ctx context.Context, userID string, cursor PageCursor) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PageRequests = append(m.PageRequests, cursor)

	if m.ListError != nil {
		return nil, m.ListError
	}

	if cursor.PageToken == "" {
		m.pageIndex = 0
	}

	if m.ErrAtPage >= 0 && m.pageIndex == m.ErrAtPage && m.PageErr != nil {
		err := m.PageErr
		// Fire once so a recovery full sync can proceed.
		m.ErrAtPage = -1
		return nil, err
	}

	if m.pageIndex >= len(m.Pages) {
		return &Page{}, nil
	}

	page := m.Pages[m.pageIndex]
	m.pageIndex++
	return page, nil
}

// ListGroups serves the configured groups.
func (m *MockSource) ListGroups(ctx context.Context, userID string) ([]models.ProviderGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GroupRequests++
	if m.GroupsError != nil {
		return nil, m.GroupsError
	}
	return m.Groups, nil
}
