package eventbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBridgePublishReachesSubscriber(t *testing.T) {
	bridge := NewBridge(nil)
	events, cancel := bridge.Subscribe("proj-a", "prd")
	defer cancel()
	bridge.Publish("proj-a", "prd")
	select {
	case n := <-events:
		if n.ProjectID != "proj-a" || n.SectionID != "prd" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification delivered")
	}
}

func TestPathToTopic(t *testing.T) {
	cases := []struct {
		rel       string
		projectID string
		sectionID string
		ok        bool
	}{
		{"documents/proj-a/prd.md", "proj-a", "prd", true},
		{"info/proj-a/collected_info.yaml", "proj-a", "collected_info", true},
		{"issues/proj-a/dependency_graph.json", "proj-a", "dependency_graph", true},
		{"progress/proj-a/work_orders/WO-001.yaml", "proj-a", "WO-001", true},
		{"documents/proj-a/prd.md.tmp", "", "", false},
		{"checkpoints/WO-001.yaml", "", "", false},
		{"documents/prd.md", "", "", false},
	}
	for _, tc := range cases {
		pid, sid, ok := pathToTopic(tc.rel)
		if ok != tc.ok || pid != tc.projectID || sid != tc.sectionID {
			t.Errorf("pathToTopic(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.rel, pid, sid, ok, tc.projectID, tc.sectionID, tc.ok)
		}
	}
}

func TestWatchTreeDetectsExternalWrite(t *testing.T) {
	root := t.TempDir()
	docDir := filepath.Join(root, "documents", "proj-a")
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		t.Fatal(err)
	}

	bridge := NewBridge(nil)
	events, cancel := bridge.Subscribe("proj-a", "prd")
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = bridge.WatchTree(ctx, root) }()

	// Give the watcher a moment to register directories before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(docDir, "prd.md"), []byte("# PRD\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case n := <-events:
		if n.ProjectID != "proj-a" || n.SectionID != "prd" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("external write not detected")
	}
}
