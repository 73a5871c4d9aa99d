package veeam

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Server-side session type names
const (
	sessionTypeFLR             = "FileLevelRestore"
	sessionTypeDataIntegration = "PublishBackupContentViaMount"
)

// SessionInfo is a restore session as reported by the server
type SessionInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SessionType  string    `json:"sessionType"`
	State        string    `json:"state"`
	Result       string    `json:"result,omitempty"`
	CreationTime time.Time `json:"creationTime"`
}

// ActiveSessions lists restore sessions on the server across both mount
// mechanisms. Sessions in a terminal state are filtered out.
func (c *Client) ActiveSessions(ctx context.Context) ([]SessionInfo, error) {
	var all []SessionInfo
	for _, sessionType := range []string{sessionTypeFLR, sessionTypeDataIntegration} {
		sessions, err := c.sessionsOfType(ctx, sessionType)
		if err != nil {
			return nil, err
		}
		all = append(all, sessions...)
	}

	active := all[:0]
	for _, s := range all {
		if s.State == "Stopped" || s.State == "Failed" {
			continue
		}
		active = append(active, s)
	}
	return active, nil
}

func (c *Client) sessionsOfType(ctx context.Context, sessionType string) ([]SessionInfo, error) {
	query := url.Values{}
	query.Set("typeFilter", sessionType)

	raw, err := c.do(ctx, http.MethodGet, "/api/v1/sessions", query, nil)
	if err != nil {
		return nil, err
	}

	var sessions []SessionInfo
	if err := json.Unmarshal(unwrapData(raw), &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// ReconcileResult summarizes a reconciliation pass against the server
type ReconcileResult struct {
	Tracked   int `json:"tracked"`
	Adopted   int `json:"adopted"`
	Dropped   int `json:"dropped"`
	Refreshed int `json:"refreshed"`
}

// Reconcile aligns the local session table with the server: sessions the
// server no longer reports are dropped, unknown server FLR sessions are
// adopted, and states are refreshed from the server's view.
func (c *Client) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	serverSessions, err := c.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]SessionInfo, len(serverSessions))
	for _, s := range serverSessions {
		byID[s.ID] = s
	}

	result := &ReconcileResult{}

	c.mu.Lock()
	for id, session := range c.sessions {
		info, live := byID[id]
		if !live {
			delete(c.sessions, id)
			result.Dropped++
			slog.Info("dropped orphaned session", "session_id", id, "backup_id", session.BackupID)
			continue
		}
		if session.State != info.State {
			session.State = info.State
			result.Refreshed++
		}
	}

	for _, info := range serverSessions {
		if _, known := c.sessions[info.ID]; known {
			continue
		}
		mountType := MountTypeFLR
		if info.SessionType == sessionTypeDataIntegration {
			mountType = MountTypeDataIntegration
		}
		session := &MountSession{
			SessionID:   info.ID,
			MachineName: info.Name,
			MountType:   mountType,
			State:       info.State,
			CreatedAt:   info.CreationTime,
		}
		if mountType == MountTypeFLR {
			session.UNCPath = uncPath(c.mountHost, info.Name, info.ID)
		}
		c.sessions[info.ID] = session
		result.Adopted++
		slog.Info("adopted server session", "session_id", info.ID, "type", mountType)
	}

	result.Tracked = len(c.sessions)
	c.mu.Unlock()

	return result, nil
}

// LiveBackupIDs returns the set of backup IDs with a tracked session,
// used to clear stale mount flags in the local database
func (c *Client) LiveBackupIDs() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make(map[string]bool, len(c.sessions))
	for _, session := range c.sessions {
		if session.BackupID != "" {
			ids[session.BackupID] = true
		}
	}
	return ids
}
