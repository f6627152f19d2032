package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
)

// sessionStateFile holds the advisory most-recently-active workflow
// ID. Its absence never impedes startup.
const sessionStateFile = "session_state.json"

type sessionState struct {
	ActiveWorkflowID string `json:"active_workflow_id"`
}

// Store is the on-disk persistence layer: one JSON file per workflow
// under dir, named by workflow ID with a .json suffix, written with
// the write-temp-fsync-rename pattern so a reader never observes a
// partial write.
type Store struct {
	dir string
}

// NewStore creates dir (and any parents) on demand and returns a
// Store rooted there.
func NewStore(dir string) (*Store, error) {
	expanded, err := expandHome(dir)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "resolving workflow state directory", err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "creating workflow state directory", err)
	}
	return &Store{dir: expanded}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func (s *Store) pathFor(workflowID string) string {
	return filepath.Join(s.dir, workflowID+".json")
}

// Save atomically writes w to disk: serialize to a sibling temp file,
// fsync, rename over the target.
func (s *Store) Save(w *Workflow) error {
	payload, err := json.MarshalIndent(w, "", " ")
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "serializing workflow", err)
	}

	tmp, err := os.CreateTemp(s.dir, w.ID+".*.tmp")
	if err != nil {
		return errs.Wrap(errs.PersistenceError, "creating temp workflow file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, "writing temp workflow file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, "syncing temp workflow file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, "closing temp workflow file", err)
	}
	if err := os.Rename(tmpName, s.pathFor(w.ID)); err != nil {
		os.Remove(tmpName)
		return errs.Wrap(errs.PersistenceError, "renaming workflow file into place", err)
	}
	return nil
}

// Load reads one workflow document by ID.
func (s *Store) Load(workflowID string) (*Workflow, error) {
	data, err := os.ReadFile(s.pathFor(workflowID))
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "reading workflow file", err)
	}
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errs.Wrap(errs.PersistenceError, "parsing workflow file", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadAll reads every valid workflow document in the directory,
// skipping malformed ones and returning one error per skipped document
// instead of aborting.
func (s *Store) LoadAll() (map[string]*Workflow, []error) {
	out := make(map[string]*Workflow)
	var problems []error

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return out, []error{errs.Wrap(errs.PersistenceError, "reading workflow state directory", err)}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if entry.Name() == sessionStateFile {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		w, err := s.Load(id)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		out[w.ID] = w
	}
	return out, problems
}

// Delete removes a workflow's persisted file. Missing files are not
// an error (cleanup is idempotent).
func (s *Store) Delete(workflowID string) error {
	if err := os.Remove(s.pathFor(workflowID)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.PersistenceError, "removing workflow file", err)
	}
	return nil
}

// SaveSessionState writes the advisory active-workflow marker,
// best-effort.
func (s *Store) SaveSessionState(activeWorkflowID string) {
	payload, err := json.Marshal(sessionState{ActiveWorkflowID: activeWorkflowID})
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(s.dir, sessionStateFile), payload, 0o644)
}

// LoadSessionState reads the advisory marker, returning "" if absent
// or unreadable.
func (s *Store) LoadSessionState() string {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionStateFile))
	if err != nil {
		return ""
	}
	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return ""
	}
	return st.ActiveWorkflowID
}
