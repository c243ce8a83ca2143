package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"

	"tunelink/internal/httpclient"
	"tunelink/internal/models"
)

// lookupCollection is the record collection lookup results are filed under.
const lookupCollection = "fm.tunelink.lookup"

// pdsRecordStore keeps lookup records in an atproto personal data server
// repo. The record pointer is the record's AT-URI.
type pdsRecordStore struct {
	client     *xrpc.Client
	identifier string
	password   string

	mu  sync.Mutex
	did string
}

// NewPDSRecordStore builds a RecordStore backed by the PDS at host,
// authenticating with an app password. The session is created lazily on
// first use and re-created when it expires.
func NewPDSRecordStore(host, identifier, password string) RecordStore {
	return &pdsRecordStore{
		client: &xrpc.Client{
			Host:   strings.TrimRight(host, "/"),
			Client: httpclient.StdClient(),
		},
		identifier: identifier,
		password:   password,
	}
}

// lookupRecord is the wire shape of a stored result. Links are deliberately
// absent: the record describes the entity, not who asked about it.
type lookupRecord struct {
	Type       string        `json:"$type"`
	Results    []recordEntry `json:"results"`
	LookedUpAt string        `json:"lookedUpAt"`
}

type recordEntry struct {
	Provider     string `json:"provider"`
	Artist       string `json:"artist"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	MarketRegion string `json:"marketRegion,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
	ArtURL       string `json:"artUrl,omitempty"`
	IsAlbum      *bool  `json:"isAlbum,omitempty"`
	IsPrimary    bool   `json:"isPrimary,omitempty"`
}

func (s *pdsRecordStore) Create(ctx context.Context, result *models.UnifiedResult) (string, error) {
	record := toRecord(result)

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	err := s.withSession(ctx, func(did string) error {
		input := map[string]any{
			"repo":       did,
			"collection": lookupCollection,
			"record":     record,
		}
		return s.client.Do(ctx, xrpc.Procedure, "application/json",
			"com.atproto.repo.createRecord", nil, input, &out)
	})
	if err != nil {
		return "", fmt.Errorf("creating lookup record: %w", err)
	}
	return out.URI, nil
}

func (s *pdsRecordStore) Get(ctx context.Context, pointer string) (*models.UnifiedResult, error) {
	record, _, err := s.getRecord(ctx, pointer)
	if err != nil || record == nil {
		return nil, err
	}
	return fromRecord(record), nil
}

func (s *pdsRecordStore) UpdateInPlace(ctx context.Context, pointer string, result *models.UnifiedResult) (bool, error) {
	repo, rkey, err := splitATURI(pointer)
	if err != nil {
		return false, err
	}

	// putRecord would create a fresh record at a dangling pointer; read first
	// so a vanished record stays vanished.
	existing, cid, err := s.getRecord(ctx, pointer)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	record := toRecord(result)
	err = s.withSession(ctx, func(string) error {
		input := map[string]any{
			"repo":       repo,
			"collection": lookupCollection,
			"rkey":       rkey,
			"record":     record,
		}
		if cid != "" {
			input["swapRecord"] = cid
		}
		var out struct {
			URI string `json:"uri"`
		}
		return s.client.Do(ctx, xrpc.Procedure, "application/json",
			"com.atproto.repo.putRecord", nil, input, &out)
	})
	if err != nil {
		// A losing concurrent swap means someone else refreshed the record;
		// their version is as good as ours.
		if isSwapConflict(err) {
			slog.Debug("record update lost a concurrent swap", "pointer", pointer)
			return true, nil
		}
		return false, fmt.Errorf("updating lookup record %s: %w", pointer, err)
	}
	return true, nil
}

func (s *pdsRecordStore) Health(ctx context.Context) error {
	return s.withSession(ctx, func(string) error { return nil })
}

func (s *pdsRecordStore) getRecord(ctx context.Context, pointer string) (*lookupRecord, string, error) {
	repo, rkey, err := splitATURI(pointer)
	if err != nil {
		return nil, "", err
	}

	var out struct {
		URI   string       `json:"uri"`
		CID   string       `json:"cid"`
		Value lookupRecord `json:"value"`
	}
	err = s.withSession(ctx, func(string) error {
		params := map[string]any{
			"repo":       repo,
			"collection": lookupCollection,
			"rkey":       rkey,
		}
		return s.client.Do(ctx, xrpc.Query, "",
			"com.atproto.repo.getRecord", params, nil, &out)
	})
	if err != nil {
		if isRecordMissing(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("reading lookup record %s: %w", pointer, err)
	}
	return &out.Value, out.CID, nil
}

// withSession runs fn with a valid session DID, re-authenticating once when
// the access token has expired.
func (s *pdsRecordStore) withSession(ctx context.Context, fn func(did string) error) error {
	did, err := s.ensureSession(ctx)
	if err != nil {
		return err
	}

	err = fn(did)
	if !isAuthExpired(err) {
		return err
	}

	s.mu.Lock()
	s.did = ""
	s.client.Auth = nil
	s.mu.Unlock()

	did, err = s.ensureSession(ctx)
	if err != nil {
		return err
	}
	return fn(did)
}

func (s *pdsRecordStore) ensureSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.did != "" {
		return s.did, nil
	}

	sess, err := comatproto.ServerCreateSession(ctx, s.client, &comatproto.ServerCreateSession_Input{
		Identifier: s.identifier,
		Password:   s.password,
	})
	if err != nil {
		return "", fmt.Errorf("creating pds session: %w", err)
	}

	s.client.Auth = &xrpc.AuthInfo{
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
		Did:        sess.Did,
		Handle:     sess.Handle,
	}
	s.did = sess.Did
	slog.Info("pds session established", "did", sess.Did)
	return s.did, nil
}

func toRecord(result *models.UnifiedResult) lookupRecord {
	entries := result.Ordered()
	out := lookupRecord{
		Type:       lookupCollection,
		Results:    make([]recordEntry, 0, len(entries)),
		LookedUpAt: result.LookedUpAt.UTC().Format(time.RFC3339),
	}
	for _, e := range entries {
		out.Results = append(out.Results, recordEntry{
			Provider:     string(e.Provider),
			Artist:       e.Artist,
			Title:        e.Title,
			URL:          e.URL,
			MarketRegion: e.MarketRegion,
			ExternalID:   e.ExternalID,
			ArtURL:       e.ArtURL,
			IsAlbum:      e.IsAlbum,
			IsPrimary:    e.IsPrimary,
		})
	}
	return out
}

// fromRecord rebuilds a result from the wire shape. Entries for providers
// this build does not know are dropped so an old binary can read records
// written by a newer one.
func fromRecord(record *lookupRecord) *models.UnifiedResult {
	result := models.NewUnifiedResult(nil, "")
	for _, e := range record.Results {
		provider := models.ProviderID(e.Provider)
		if !provider.Known() {
			slog.Debug("skipping record entry for unknown provider", "provider", e.Provider)
			continue
		}
		result.Attach(&models.ProviderResult{
			Provider:     provider,
			Artist:       e.Artist,
			Title:        e.Title,
			URL:          e.URL,
			MarketRegion: e.MarketRegion,
			ExternalID:   e.ExternalID,
			ArtURL:       e.ArtURL,
			IsAlbum:      e.IsAlbum,
			IsPrimary:    e.IsPrimary,
		})
	}
	if t, err := time.Parse(time.RFC3339, record.LookedUpAt); err == nil {
		result.LookedUpAt = t
	}
	return result
}

// splitATURI splits at://repo/collection/rkey into its repo and rkey parts.
func splitATURI(pointer string) (string, string, error) {
	trimmed := strings.TrimPrefix(pointer, "at://")
	parts := strings.Split(trimmed, "/")
	if trimmed == pointer || len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed record pointer %q", pointer)
	}
	return parts[0], parts[2], nil
}

func isRecordMissing(err error) bool {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return false
	}
	return xe.StatusCode == 400 || xe.StatusCode == 404
}

func isAuthExpired(err error) bool {
	var xe *xrpc.Error
	return errors.As(err, &xe) && xe.StatusCode == 401
}

func isSwapConflict(err error) bool {
	var xe *xrpc.Error
	return errors.As(err, &xe) && xe.StatusCode == 409
}
