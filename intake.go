package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const intakePollInterval = 2 * time.Second

// SpoolIntake feeds the gateway from the filesystem: every *.json file
// dropped into the intents directory is processed as one intent, and the
// outcome is written next to it as <name>.result.json. Approval decisions
// arrive as empty marker files <requestID>.approve or <requestID>.reject
// in the decisions directory.
//
// The spool is the only built-in intake; network surfaces are left to
// embedding programs.
type SpoolIntake struct {
	gateway      *Gateway
	pending      *PendingApprovalStore
	intentsDir   string
	decisionsDir string
	lg           Logger
}

func NewSpoolIntake(gateway *Gateway, pending *PendingApprovalStore, baseDir string, lg Logger) (*SpoolIntake, error) {
	intentsDir := filepath.Join(baseDir, "intents")
	decisionsDir := filepath.Join(baseDir, "decisions")
	for _, dir := range []string{intentsDir, decisionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	s := &SpoolIntake{
		gateway:      gateway,
		pending:      pending,
		intentsDir:   intentsDir,
		decisionsDir: decisionsDir,
		lg:           lg.NewSystem("intake"),
	}
	if err := s.reclaimStale(); err != nil {
		return nil, err
	}
	return s, nil
}

// reclaimStale renames intent files claimed by a previous run back to
// their original names so they are dispatched again. A crash between
// claim and result must not lose the intent.
func (s *SpoolIntake) reclaimStale() error {
	entries, err := os.ReadDir(s.intentsDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".processing") {
			continue
		}
		original := strings.TrimSuffix(name, ".processing")
		if err := os.Rename(filepath.Join(s.intentsDir, name), filepath.Join(s.intentsDir, original)); err != nil {
			return err
		}
		s.lg.Warn("reclaimed stale intent file", "file", original)
	}
	return nil
}

// Run polls both spool directories until the context is done. Intents are
// processed concurrently so a pending approval does not block the queue.
func (s *SpoolIntake) Run(ctx context.Context) {
	ticker := time.NewTicker(intakePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.applyDecisions()
			s.dispatchIntents(ctx)
		}
	}
}

func (s *SpoolIntake) dispatchIntents(ctx context.Context) {
	entries, err := os.ReadDir(s.intentsDir)
	if err != nil {
		s.lg.Error("failed to read intents spool", "error", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".result.json") {
			continue
		}

		path := filepath.Join(s.intentsDir, name)
		payload, err := os.ReadFile(path)
		if err != nil {
			s.lg.Error("failed to read intent file", "path", path, "error", err)
			continue
		}
		// Claim the file before processing so the next tick skips it.
		claimed := path + ".processing"
		if err := os.Rename(path, claimed); err != nil {
			continue
		}

		go s.process(ctx, name, claimed, payload)
	}
}

func (s *SpoolIntake) process(ctx context.Context, name, claimedPath string, payload []byte) {
	result, err := s.gateway.ProcessIntent(ctx, payload)

	outcome := map[string]any{"result": result}
	if err != nil {
		outcome["error"] = err.Error()
	}
	encoded, marshalErr := json.MarshalIndent(outcome, "", "  ")
	if marshalErr != nil {
		s.lg.Error("failed to encode intent outcome", "file", name, "error", marshalErr)
		return
	}

	resultPath := filepath.Join(s.intentsDir, strings.TrimSuffix(name, ".json")+".result.json")
	if err := os.WriteFile(resultPath, encoded, 0o644); err != nil {
		s.lg.Error("failed to write intent outcome", "path", resultPath, "error", err)
		return
	}
	if err := os.Remove(claimedPath); err != nil {
		s.lg.Warn("failed to remove processed intent file", "path", claimedPath, "error", err)
	}
	s.lg.Info("intent processed", "file", name, "hasError", err != nil)
}

// applyDecisions consumes <requestID>.approve and <requestID>.reject
// marker files. An unknown or already-decided request id is dropped
// silently; markers are removed either way.
func (s *SpoolIntake) applyDecisions() {
	entries, err := os.ReadDir(s.decisionsDir)
	if err != nil {
		s.lg.Error("failed to read decisions spool", "error", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		var requestID string
		var approved bool
		switch {
		case strings.HasSuffix(name, ".approve"):
			requestID = strings.TrimSuffix(name, ".approve")
			approved = true
		case strings.HasSuffix(name, ".reject"):
			requestID = strings.TrimSuffix(name, ".reject")
		default:
			continue
		}

		if s.pending.Decide(requestID, approved) {
			s.lg.Info("approval decision applied", "requestID", requestID, "approved", approved)
		} else {
			s.lg.Warn("decision for unknown or expired approval", "requestID", requestID)
		}
		if err := os.Remove(filepath.Join(s.decisionsDir, name)); err != nil {
			s.lg.Warn("failed to remove decision marker", "file", name, "error", err)
		}
	}
}
