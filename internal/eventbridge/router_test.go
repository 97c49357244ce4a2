package eventbridge

import (
	"testing"
)

func TestRouterBuffersAndFlushes(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(4))
	first := Event{EventID: "evt-1", ProjectID: "proj-a", SectionID: "prd", Type: EventSectionWritten}
	second := Event{EventID: "evt-2", ProjectID: "proj-a", SectionID: "prd", Type: EventTransition}
	router.Route(first)
	router.Route(second)
	sub := router.Subscribe("proj-a", "prd")
	defer sub.Close()
	got1 := <-sub.Events
	if got1.EventID != first.EventID {
		t.Fatalf("expected first buffered event, got %s", got1.EventID)
	}
	got2 := <-sub.Events
	if got2.EventID != second.EventID {
		t.Fatalf("expected second buffered event, got %s", got2.EventID)
	}
}

func TestRouterDedupeByEventID(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("proj-a", "prd")
	defer sub.Close()
	event := Event{EventID: "evt-1", ProjectID: "proj-a", SectionID: "prd", Type: EventSectionWritten}
	router.Route(event)
	router.Route(event)
	select {
	case got := <-sub.Events:
		if got.EventID != event.EventID {
			t.Fatalf("unexpected event: %s", got.EventID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Events:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestRouterWildcardReceivesEverySection(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("proj-a", "")
	defer sub.Close()
	router.Route(Event{EventID: "evt-1", ProjectID: "proj-a", SectionID: "prd", Type: EventSectionWritten})
	router.Route(Event{EventID: "evt-2", ProjectID: "proj-a", SectionID: "srs", Type: EventSectionWritten})
	if got := <-sub.Events; got.SectionID != "prd" {
		t.Fatalf("expected prd first, got %s", got.SectionID)
	}
	if got := <-sub.Events; got.SectionID != "srs" {
		t.Fatalf("expected srs second, got %s", got.SectionID)
	}
}

func TestRouterResolvesProjectFromCorrelation(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe("proj-a", "prd")
	defer sub.Close()
	router.Route(Event{EventID: "evt-1", ProjectID: "proj-a", SectionID: "prd", CorrelationID: "corr-7", Type: EventSectionWritten})
	<-sub.Events
	// Same correlation, no project id: should land on the tracked topic.
	router.Route(Event{EventID: "evt-2", CorrelationID: "corr-7", Type: EventSectionWritten})
	got := <-sub.Events
	if got.ProjectID != "proj-a" || got.SectionID != "prd" {
		t.Fatalf("correlation lookup routed to %s/%s", got.ProjectID, got.SectionID)
	}
}

func TestRouterDropsOldestPreferredEventOnOverflow(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("proj-a", "prd")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", ProjectID: "proj-a", SectionID: "prd", Type: EventAgentOutput}
	critical := Event{EventID: "evt-2", ProjectID: "proj-a", SectionID: "prd", Type: EventTransition}
	router.Route(oldest)
	router.Route(critical)
	if got := <-sub.Events; got.EventID != critical.EventID {
		t.Fatalf("expected critical event to replace oldest, got %s", got.EventID)
	}
}

func TestRouterDropsIncomingWhenOldestCritical(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe("proj-a", "prd")
	defer sub.Close()
	oldest := Event{EventID: "evt-1", ProjectID: "proj-a", SectionID: "prd", Type: EventEscalation}
	droppable := Event{EventID: "evt-2", ProjectID: "proj-a", SectionID: "prd", Type: EventAgentOutput}
	router.Route(oldest)
	router.Route(droppable)
	if got := <-sub.Events; got.EventID != oldest.EventID {
		t.Fatalf("expected oldest critical event to remain, got %s", got.EventID)
	}
	select {
	case <-sub.Events:
		t.Fatalf("unexpected extra event")
	default:
	}
}
