package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/mritsurgeon/veeam-ml/internal/models"
	"github.com/mritsurgeon/veeam-ml/internal/veeam"
)

// sendJSON writes a JSON response
func sendJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends a JSON error response
func sendError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := models.ErrorResponse{
		Error: message,
		Code:  code,
	}

	json.NewEncoder(w).Encode(errResp)
}

// pathID parses the {id} route parameter
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Connection holds the active Veeam client. The connection endpoint swaps
// the client at runtime, so handlers read it through here instead of
// capturing it at construction.
type Connection struct {
	mu     sync.RWMutex
	client *veeam.Client
}

// Client returns the current Veeam client, or nil when not configured
func (c *Connection) Client() *veeam.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Set replaces the active Veeam client
func (c *Connection) Set(client *veeam.Client) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

// requireClient fetches the active client or writes a 503
func requireClient(w http.ResponseWriter, conn *Connection) *veeam.Client {
	client := conn.Client()
	if client == nil {
		sendError(w, "Veeam server connection is not configured", "VEEAM_NOT_CONFIGURED", http.StatusServiceUnavailable)
		return nil
	}
	return client
}
