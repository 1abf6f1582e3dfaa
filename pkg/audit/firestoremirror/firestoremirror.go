// Package firestoremirror mirrors the relayer's audit trail into
// Cloud Firestore, for durable cross-process querying and chain
// verification beyond what a log sink can offer. Disabled deployments
// get a no-op Sink so operators never have to special-case a missing
// GCP project.
package firestoremirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/certen/tbtc-relayer/pkg/audit"
)

// Config configures the Firestore mirror.
type Config struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to a service-account JSON key. If
	// empty, the SDK falls back to GOOGLE_APPLICATION_CREDENTIALS or
	// ambient application-default credentials.
	CredentialsFile string

	// Enabled gates whether the mirror performs any network I/O. When
	// false, Sink is a no-op and never dials Firestore.
	Enabled bool

	Logger *log.Logger
}

// ConfigFromEnv builds a Config from FIRESTORE_AUDIT_ENABLED,
// FIREBASE_PROJECT_ID and GOOGLE_APPLICATION_CREDENTIALS.
func ConfigFromEnv() Config {
	return Config{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         os.Getenv("FIRESTORE_AUDIT_ENABLED") == "true",
	}
}

// Sink mirrors audit.Event records into
// /relayerAudit/{entityId}/entries/{entryId}. It implements audit.Sink.
type Sink struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	enabled   bool
	logger    *log.Logger
	mu        sync.RWMutex
}

// New dials Firestore when cfg.Enabled is true; otherwise it returns a
// Sink that no-ops every call, matching the teacher's "disabled means
// no-op, never an error" posture.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[audit/firestore] ", log.LstdFlags)
	}

	s := &Sink{enabled: cfg.Enabled, logger: cfg.Logger}

	if !cfg.Enabled {
		cfg.Logger.Println("Firestore audit mirror disabled - running in no-op mode")
		return s, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when the Firestore audit mirror is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	s.app = app
	s.firestore = fsClient
	cfg.Logger.Printf("Firestore audit mirror initialized for project: %s", cfg.ProjectID)
	return s, nil
}

// Close releases the underlying Firestore client.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firestore != nil {
		return s.firestore.Close()
	}
	return nil
}

func (s *Sink) isEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled && s.firestore != nil
}

func (s *Sink) collectionPath(entityID string) string {
	return fmt.Sprintf("relayerAudit/%s/entries", entityID)
}

// Write persists event under relayerAudit/{entityId}/entries/{entryId}.
func (s *Sink) Write(ctx context.Context, event audit.Event) error {
	if !s.isEnabled() {
		s.logger.Printf("Firestore audit mirror disabled - skipping entry for entity=%s phase=%s",
			event.EntityID, event.Phase)
		return nil
	}

	docPath := fmt.Sprintf("%s/%s", s.collectionPath(event.EntityID), event.EntryID)
	_, err := s.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"entityType":   event.EntityType,
		"entityId":     event.EntityID,
		"chain":        event.Chain,
		"phase":        event.Phase,
		"action":       event.Action,
		"actor":        event.Actor,
		"timestamp":    event.Timestamp,
		"previousHash": event.PreviousHash,
		"entryHash":    event.EntryHash,
		"details":      event.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// LatestEntryHash returns the EntryHash of the most recently written
// entry for entityID, enabling Recorder to build a verifiable chain
// across process restarts.
func (s *Sink) LatestEntryHash(ctx context.Context, entityID string) (string, error) {
	if !s.isEnabled() {
		return "", nil
	}

	query := s.firestore.Collection(s.collectionPath(entityID)).
		OrderBy("timestamp", gcpfirestore.Desc).
		Limit(1)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to query audit trail: %w", err)
	}
	if len(docs) == 0 {
		return "", nil
	}

	hash, _ := docs[0].Data()["entryHash"].(string)
	return hash, nil
}
