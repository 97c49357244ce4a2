package eventbridge

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

// Bridge adapts a Router into the scratchpad.Watcher seam: in-process
// writers call Publish from Store.Set/Update, agent subprocesses POST to
// the Server wired with the same Router, and WatchTree picks up writes
// from outside the process entirely. All three paths converge on the same
// subscriber channels.
//
// A single logical write can surface more than once (Publish plus an
// fsnotify hit); subscribers must treat notifications as "something
// changed, re-read", not as a count.
type Bridge struct {
	router *Router
	now    func() time.Time
}

// NewBridge wraps router. A nil router gets a default one.
func NewBridge(router *Router) *Bridge {
	if router == nil {
		router = NewRouter()
	}
	return &Bridge{router: router, now: func() time.Time { return time.Now().UTC() }}
}

// Router exposes the underlying router, for wiring the HTTP Server's
// processor to the same fan-out.
func (b *Bridge) Router() *Router { return b.router }

// Publish implements scratchpad.Watcher.
func (b *Bridge) Publish(projectID, sectionID string) {
	b.router.Route(Event{
		Version:    EventSchemaVersion,
		EventID:    uuid.NewString(),
		Type:       EventSectionWritten,
		ClientTime: b.now(),
		ProjectID:  projectID,
		SectionID:  sectionID,
	})
}

// Subscribe implements scratchpad.Watcher. An empty sectionID watches the
// whole project.
func (b *Bridge) Subscribe(projectID, sectionID string) (<-chan scratchpad.Notification, func()) {
	sub := b.router.Subscribe(projectID, sectionID)
	out := make(chan scratchpad.Notification, cap(sub.Events))
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				out <- scratchpad.Notification{ProjectID: evt.ProjectID, SectionID: evt.SectionID}
			case <-done:
				return
			}
		}
	}()
	cancel := func() {
		sub.Close()
		close(done)
	}
	return out, cancel
}

// WatchTree tails the scratchpad directory with fsnotify and routes a
// section_written event for every file modified by a process other than
// this one (or by this one; duplicates are the subscriber's concern, see
// the Bridge doc). New per-project subdirectories are added to the watch
// as they appear. Blocks until ctx is cancelled.
func (b *Bridge) WatchTree(ctx context.Context, scratchpadRoot string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	addRecursive := func(root string) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			_ = fw.Add(path)
			return nil
		})
	}
	addRecursive(scratchpadRoot)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				// Could be a new project directory; watch inside it.
				addRecursive(event.Name)
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(scratchpadRoot, event.Name)
			if err != nil {
				continue
			}
			projectID, sectionID, ok := pathToTopic(rel)
			if !ok {
				continue
			}
			b.router.Route(Event{
				Version:    EventSchemaVersion,
				EventID:    uuid.NewString(),
				Type:       EventSectionWritten,
				ClientTime: b.now(),
				ProjectID:  projectID,
				SectionID:  sectionID,
			})
		case <-fw.Errors:
			// Watch errors are not fatal to the pipeline; the in-process
			// Publish path still works without the file watcher.
		}
	}
}

// pathToTopic maps a scratchpad-relative file path back to its project and
// section ids. Temp files from atomic writes and trees without a project
// component (checkpoints, history) yield ok=false.
func pathToTopic(rel string) (projectID, sectionID string, ok bool) {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	base := parts[len(parts)-1]
	if strings.HasPrefix(base, ".tmp-") || strings.HasPrefix(base, ".session-") ||
		strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".lock") {
		return "", "", false
	}
	if len(parts) < 3 {
		return "", "", false
	}
	switch parts[0] {
	case "info", "documents", "issues", "progress":
	default:
		return "", "", false
	}
	projectID = parts[1]
	sectionID = strings.TrimSuffix(base, filepath.Ext(base))
	if projectID == "" || sectionID == "" {
		return "", "", false
	}
	return projectID, sectionID, true
}
