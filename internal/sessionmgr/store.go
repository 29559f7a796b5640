// Package sessionmgr implements the Session Manager: the ordered
// append-only message log per session, with tool-call/tool-result pairing
// invariants, token estimation, compaction, and mid-flight edit/retry/delete.
package sessionmgr

import (
	"errors"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// ErrNotFound is returned by Store.Load when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Record is the full persisted shape of one session: identity plus its
// ordered message log.
type Record struct {
	Session  models.Session  `json:"session"`
	Messages []models.Message `json:"messages"`
}

// Store is the durable persistence interface the Manager uses to flush and
// load sessions. The core never assumes a particular storage format beyond
// one record per session id.
type Store interface {
	Load(id string) (*Record, error)
	Save(rec *Record) error
	Delete(id string) error
	List() ([]string, error)
}
