package policy

import (
	"sync/atomic"

	"github.com/cdahabbo/rolesync/pkg/logger"
)

// Holder serves the current policy table and swaps it on Reload.
type Holder struct {
	path  string
	table atomic.Pointer[Table]
}

// NewHolder loads path once; a malformed file is returned as an error.
func NewHolder(path string) (*Holder, error) {
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &Holder{path: path}
	h.table.Store(t)
	return h, nil
}

func (h *Holder) Path() string  { return h.path }
func (h *Holder) Table() *Table { return h.table.Load() }

// Reload re-reads the file. On error the previous table stays active.
func (h *Holder) Reload() (*Table, error) {
	t, err := Load(h.path)
	if err != nil {
		logger.Errorf("policy reload failed, keeping previous table: %v", err)
		return h.table.Load(), err
	}
	h.table.Store(t)
	logger.Infof("policy reloaded from %s (%d entries)", h.path, t.Len())
	return t, nil
}
