package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	people "google.golang.org/api/people/v1"

	"github.com/kaivalyagandhi/catchup-app-sub016/internal/config"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/events"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/models"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/ratelimit"
	"github.com/kaivalyagandhi/catchup-app-sub016/internal/vault"
)

const personFields = "names,emailAddresses,phoneNumbers,organizations,addresses,memberships,metadata"

// batchGetLimit is the provider's cap on contactGroups.batchGet.
const batchGetLimit = 50

// PeopleSource reads contacts and groups from the Google People API. Every
// provider call goes through the rate limiter, and throttling responses are
// translated so the limiter can back off.
type PeopleSource struct {
	vaults  vault.TokenVault
	limiter *ratelimit.Limiter
	cfg     config.ProviderConfig
	logger  *events.Logger

	// Injectable for tests.
	newService func(ctx context.Context, token *oauth2.Token) (*people.Service, error)
}

// NewPeopleSource creates a People API contact source.
func NewPeopleSource(vaults vault.TokenVault, limiter *ratelimit.Limiter, cfg config.ProviderConfig, logger *events.Logger) *PeopleSource {
	s := &PeopleSource{
		vaults:  vaults,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.WithField("component", "people_source"),
	}
	s.newService = s.defaultService
	return s
}

// ListPage fetches one page of connections.
func (s *PeopleSource) ListPage(ctx context.Context, userID string, cursor PageCursor) (*Page, error) {
	svc, err := s.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	var resp *people.ListConnectionsResponse
	err = s.limiter.Do(ctx, userID, func(ctx context.Context) error {
		call := svc.People.Connections.List("people/me").
			PageSize(s.cfg.PageSize).
			PersonFields(personFields).
			Context(ctx)

		if cursor.PageToken != "" {
			call = call.PageToken(cursor.PageToken)
		}
		if cursor.SyncToken != "" {
			call = call.SyncToken(cursor.SyncToken)
		}
		if cursor.RequestSyncToken {
			call = call.RequestSyncToken(true)
		}

		var callErr error
		resp, callErr = call.Do()
		return translateError(callErr)
	})
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	page := &Page{
		NextPageToken: resp.NextPageToken,
		NewSyncToken:  resp.NextSyncToken,
	}

	for _, person := range resp.Connections {
		if person.Metadata != nil && person.Metadata.Deleted {
			page.DeletedExternalIDs = append(page.DeletedExternalIDs, person.ResourceName)
			continue
		}
		page.Contacts = append(page.Contacts, convertPerson(userID, person))
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"contacts": len(page.Contacts),
		"deleted":  len(page.DeletedExternalIDs),
		"has_next": page.NextPageToken != "",
	}).Debug("Fetched connections page")

	return page, nil
}

// ListGroups fetches the user's provider groups with member external IDs.
// System groups (starred, my-contacts and friends) are not part of the
// user's taxonomy and are skipped.
func (s *PeopleSource) ListGroups(ctx context.Context, userID string) ([]models.ProviderGroup, error) {
	svc, err := s.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	var resourceNames []string
	pageToken := ""
	for {
		var resp *people.ListContactGroupsResponse
		err := s.limiter.Do(ctx, userID, func(ctx context.Context) error {
			call := svc.ContactGroups.List().Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var callErr error
			resp, callErr = call.Do()
			return translateError(callErr)
		})
		if err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}

		for _, g := range resp.ContactGroups {
			if g.GroupType != "USER_CONTACT_GROUP" {
				continue
			}
			resourceNames = append(resourceNames, g.ResourceName)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	// The list call does not include members; batch-get fills them in.
	var groups []models.ProviderGroup
	for start := 0; start < len(resourceNames); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(resourceNames) {
			end = len(resourceNames)
		}
		chunk := resourceNames[start:end]

		var resp *people.BatchGetContactGroupsResponse
		err := s.limiter.Do(ctx, userID, func(ctx context.Context) error {
			var callErr error
			resp, callErr = svc.ContactGroups.BatchGet().
				ResourceNames(chunk...).
				MaxMembers(s.cfg.PageSize).
				Context(ctx).
				Do()
			return translateError(callErr)
		})
		if err != nil {
			return nil, fmt.Errorf("batch get groups: %w", err)
		}

		for _, gr := range resp.Responses {
			if gr.ContactGroup == nil {
				continue
			}
			groups = append(groups, models.ProviderGroup{
				ExternalID:        gr.ContactGroup.ResourceName,
				ETag:              gr.ContactGroup.Etag,
				Name:              gr.ContactGroup.Name,
				MemberExternalIDs: gr.ContactGroup.MemberResourceNames,
			})
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"groups":  len(groups),
	}).Debug("Fetched provider groups")

	return groups, nil
}

func (s *PeopleSource) service(ctx context.Context, userID string) (*people.Service, error) {
	token, err := s.vaults.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.newService(ctx, token)
}

func (s *PeopleSource) defaultService(ctx context.Context, token *oauth2.Token) (*people.Service, error) {
	base := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	if err := http2.ConfigureTransport(base); err != nil {
		s.logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	client := &http.Client{
		Timeout: s.cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   base,
		},
	}

	svc, err := people.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create people service: %w", err)
	}
	return svc, nil
}

// translateError maps provider errors onto the sync taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusGone,
			apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "EXPIRED_SYNC_TOKEN"):
			return models.ErrResumeInvalidated
		case apiErr.Code == http.StatusTooManyRequests:
			return models.ErrThrottled
		case apiErr.Code == http.StatusUnauthorized:
			return models.ErrNotAuthenticated
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, "rateLimitExceeded", "userRateLimitExceeded"):
			return models.ErrThrottled
		case apiErr.Code >= 500:
			return &models.TransientError{Op: "provider", Err: err}
		default:
			return err
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Anything else from the HTTP layer is a network-level failure.
	return &models.TransientError{Op: "provider", Err: err}
}

func hasReason(apiErr *googleapi.Error, reasons ...string) bool {
	for _, item := range apiErr.Errors {
		for _, reason := range reasons {
			if item.Reason == reason {
				return true
			}
		}
	}
	return false
}

// convertPerson maps a provider person onto a contact record. Primary
// values win for email and phone; otherwise the first non-empty one does.
func convertPerson(userID string, person *people.Person) models.Contact {
	c := models.Contact{
		UserID:     userID,
		ExternalID: person.ResourceName,
		ETag:       person.Etag,
	}

	if len(person.Names) > 0 {
		c.Name = person.Names[0].DisplayName
	}

	for _, email := range person.EmailAddresses {
		if email.Value == "" {
			continue
		}
		if c.Email == "" {
			c.Email = email.Value
		}
		if email.Metadata != nil && email.Metadata.Primary {
			c.Email = email.Value
			break
		}
	}

	for _, phone := range person.PhoneNumbers {
		if phone.Value == "" {
			continue
		}
		if c.Phone == "" {
			c.Phone = phone.Value
		}
		if phone.Metadata != nil && phone.Metadata.Primary {
			c.Phone = phone.Value
			break
		}
	}

	if len(person.Organizations) > 0 {
		c.Organization = person.Organizations[0].Name
	}

	for _, addr := range person.Addresses {
		if addr.FormattedValue != "" {
			c.Locations = append(c.Locations, addr.FormattedValue)
		}
	}

	for _, m := range person.Memberships {
		if m.ContactGroupMembership != nil && m.ContactGroupMembership.ContactGroupResourceName != "" {
			c.GroupExternalIDs = append(c.GroupExternalIDs, m.ContactGroupMembership.ContactGroupResourceName)
		}
	}

	return c
}
