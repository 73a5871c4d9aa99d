package veeam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mritsurgeon/veeam-ml/internal/metrics"
)

// Mount mechanisms
const (
	MountTypeFLR             = "FLR"
	MountTypeDataIntegration = "DataIntegration"
)

// MountSession is a restore session this client tracks locally
type MountSession struct {
	SessionID   string    `json:"session_id"`
	BackupID    string    `json:"backup_id"`
	MachineName string    `json:"machine_name"`
	MountType   string    `json:"mount_type"`
	UNCPath     string    `json:"unc_path,omitempty"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// uncPath builds the share path Veeam exposes for an FLR session.
// The mount folder is the machine name joined with the first 8 characters
// of the session ID.
func uncPath(host, machineName, sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf(`\\%s\VeeamFLR\%s_%s`, host, machineName, short)
}

// MountOptions tunes a Mount call
type MountOptions struct {
	Reason                  string
	AutoUnmountMinutes      int  // 0 disables auto-unmount
	SkipExistingSessionScan bool // force a fresh session even when one is live
}

type flrSpec struct {
	RestorePointID string       `json:"restorePointId"`
	Type           string       `json:"type"`
	AutoUnmount    *autoUnmount `json:"autoUnmount,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

type autoUnmount struct {
	IsEnabled                 bool `json:"isEnabled"`
	NoActivityPeriodInMinutes int  `json:"noActivityPeriodInMinutes,omitempty"`
}

// Mount starts (or reuses) a file-level restore session for the newest
// restore point of backupID and returns the tracked session. When the
// server already has a working FLR session for the backup, that session is
// adopted instead of starting a second mount.
func (c *Client) Mount(ctx context.Context, backupID string, opts MountOptions) (*MountSession, error) {
	if !opts.SkipExistingSessionScan {
		if session, err := c.findExistingMount(ctx, backupID); err == nil && session != nil {
			slog.Info("reusing existing restore session",
				"session_id", session.SessionID, "backup_id", backupID)
			return session, nil
		}
	}

	points, err := c.RestorePoints(ctx, backupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list restore points: %w", err)
	}
	point := newestRestorePoint(points)
	if point == nil {
		return nil, fmt.Errorf("backup %s has no restore points", backupID)
	}

	reason := opts.Reason
	if reason == "" {
		reason = "Data analysis mount " + uuid.NewString()
	}

	spec := flrSpec{
		RestorePointID: point.ID,
		Type:           "Windows",
		Reason:         reason,
	}
	if opts.AutoUnmountMinutes > 0 {
		spec.AutoUnmount = &autoUnmount{IsEnabled: true, NoActivityPeriodInMinutes: opts.AutoUnmountMinutes}
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v1/restore/flr", nil, spec)
	if err != nil {
		metrics.MountsTotal.WithLabelValues("flr", "failure").Inc()
		return nil, fmt.Errorf("failed to start restore session: %w", err)
	}

	var started struct {
		SessionID string `json:"sessionId"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(raw, &started); err != nil {
		return nil, fmt.Errorf("failed to decode restore session response: %w", err)
	}
	sessionID := started.SessionID
	if sessionID == "" {
		sessionID = started.ID
	}
	if sessionID == "" {
		return nil, fmt.Errorf("restore session response contained no session id")
	}

	machineName := machineNameOf(point)
	session := &MountSession{
		SessionID:   sessionID,
		BackupID:    backupID,
		MachineName: machineName,
		MountType:   MountTypeFLR,
		UNCPath:     uncPath(c.mountHost, machineName, sessionID),
		State:       "Starting",
		CreatedAt:   time.Now().UTC(),
	}

	c.mu.Lock()
	c.sessions[sessionID] = session
	metrics.ActiveMountSessions.Set(float64(len(c.sessions)))
	c.mu.Unlock()
	metrics.MountsTotal.WithLabelValues("flr", "success").Inc()

	slog.Info("started restore session",
		"session_id", sessionID, "backup_id", backupID, "unc_path", session.UNCPath)
	return session, nil
}

// machineNameOf derives the mount folder prefix from a restore point.
// The server reports it in sourceProperties; the point name is close enough
// when that is missing.
func machineNameOf(point *RestorePoint) string {
	if point.Name != "" {
		// Restore point names look like "vm-name ( <date> )"
		name := point.Name
		if idx := strings.Index(name, "("); idx > 0 {
			name = name[:idx]
		}
		return strings.TrimSpace(name)
	}
	return point.ID
}

// findExistingMount scans server sessions for a working FLR session whose
// name references the backup's machine, adopting it locally when found
func (c *Client) findExistingMount(ctx context.Context, backupID string) (*MountSession, error) {
	c.mu.Lock()
	for _, session := range c.sessions {
		if session.BackupID == backupID {
			c.mu.Unlock()
			return session, nil
		}
	}
	c.mu.Unlock()

	points, err := c.RestorePoints(ctx, backupID)
	if err != nil {
		return nil, err
	}
	point := newestRestorePoint(points)
	if point == nil {
		return nil, nil
	}
	machineName := machineNameOf(point)

	sessions, err := c.ActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range sessions {
		if info.SessionType != sessionTypeFLR || info.State != "Working" {
			continue
		}
		if !strings.Contains(strings.ToLower(info.Name), strings.ToLower(machineName)) {
			continue
		}

		session := &MountSession{
			SessionID:   info.ID,
			BackupID:    backupID,
			MachineName: machineName,
			MountType:   MountTypeFLR,
			UNCPath:     uncPath(c.mountHost, machineName, info.ID),
			State:       info.State,
			CreatedAt:   info.CreationTime,
		}
		c.mu.Lock()
		c.sessions[info.ID] = session
		c.mu.Unlock()
		return session, nil
	}
	return nil, nil
}

// Unmount tears down a restore session. A session the server no longer
// knows about counts as unmounted. Sessions started by other clients are
// tried against both mechanisms.
func (c *Client) Unmount(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	session := c.sessions[sessionID]
	c.mu.Unlock()

	var err error
	switch {
	case session != nil && session.MountType == MountTypeDataIntegration:
		err = c.unpublish(ctx, sessionID)
	case session != nil:
		err = c.unmountFLR(ctx, sessionID)
	default:
		// Untracked session: try FLR first, then data integration
		err = c.unmountFLR(ctx, sessionID)
		if err != nil && !IsNotFound(err) {
			err = c.unpublish(ctx, sessionID)
		}
	}

	if err != nil && !IsNotFound(err) {
		metrics.UnmountsTotal.WithLabelValues("failure").Inc()
		return err
	}

	c.mu.Lock()
	delete(c.sessions, sessionID)
	metrics.ActiveMountSessions.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	metrics.UnmountsTotal.WithLabelValues("success").Inc()
	slog.Info("unmounted restore session", "session_id", sessionID)
	return nil
}

func (c *Client) unmountFLR(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/restore/flr/"+sessionID+"/unmount", nil, nil)
	return err
}

func (c *Client) unpublish(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/dataIntegration/"+sessionID+"/unpublish", nil, nil)
	return err
}

// WaitReady polls until the session's mounted content is reachable or ctx
// expires. A working FLR session is considered ready once the server can
// browse its root.
func (c *Client) WaitReady(ctx context.Context, sessionID string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ready, err := c.probeReady(ctx, sessionID)
		if err != nil {
			return err
		}
		if ready {
			c.mu.Lock()
			if session := c.sessions[sessionID]; session != nil {
				session.State = "Working"
			}
			c.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeReady asks the server to browse the session root
func (c *Client) probeReady(ctx context.Context, sessionID string) (bool, error) {
	query := url.Values{}
	query.Set("path", "/")
	_, err := c.do(ctx, http.MethodGet, "/api/v1/backupBrowser/flr/"+sessionID+"/files", query, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusUnauthorized {
		// Browse not available yet, keep polling
		return false, nil
	}
	return false, err
}

// PublishedDisk is one disk exposed by a data integration session
type PublishedDisk struct {
	Name       string `json:"name"`
	AccessLink string `json:"accessLink"` // iSCSI IQN
}

// PublishInfo describes the iSCSI targets of a data integration session
type PublishInfo struct {
	SessionID  string          `json:"session_id"`
	ServerIPs  []string        `json:"server_ips"`
	ServerPort int             `json:"server_port"`
	Disks      []PublishedDisk `json:"disks"`
}

// PublishedInfo fetches mount details for a data integration session
func (c *Client) PublishedInfo(ctx context.Context, sessionID string) (*PublishInfo, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v1/dataIntegration/"+sessionID, nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID   string `json:"id"`
		Info struct {
			ServerIPs  []string `json:"serverIps"`
			ServerPort int      `json:"serverPort"`
			Disks      []struct {
				Name       string `json:"name"`
				AccessLink string `json:"accessLink"`
			} `json:"disks"`
		} `json:"info"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode publish info: %w", err)
	}

	info := &PublishInfo{
		SessionID:  sessionID,
		ServerIPs:  payload.Info.ServerIPs,
		ServerPort: payload.Info.ServerPort,
	}
	if info.ServerPort == 0 {
		info.ServerPort = 3260
	}
	for _, d := range payload.Info.Disks {
		info.Disks = append(info.Disks, PublishedDisk{Name: d.Name, AccessLink: d.AccessLink})
	}
	return info, nil
}

// Sessions returns a snapshot of the locally tracked mount sessions
func (c *Client) Sessions() []*MountSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*MountSession, 0, len(c.sessions))
	for _, session := range c.sessions {
		copied := *session
		out = append(out, &copied)
	}
	return out
}

// SessionForBackup returns the tracked session for a backup, or nil
func (c *Client) SessionForBackup(backupID string) *MountSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, session := range c.sessions {
		if session.BackupID == backupID {
			copied := *session
			return &copied
		}
	}
	return nil
}

// CleanupAll unmounts every tracked session. Errors are collected so one
// stuck session does not strand the rest.
func (c *Client) CleanupAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := c.Unmount(ctx, id); err != nil {
			slog.Error("failed to unmount session during cleanup", "session_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
