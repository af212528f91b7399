package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// LabelCount is one row of the popular labels list
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary is a point-in-time view of the analytics counters
type Summary struct {
	Analyses          int            `json:"analyses"`
	CacheHits         int            `json:"cache_hits"`
	AIEnhanced        int            `json:"ai_enhanced"`
	Degraded          map[string]int `json:"degraded"`
	TopLabels         []LabelCount   `json:"top_labels"`
	Recommendations   map[string]int `json:"recommendations_by_meal_type"`
	PreferenceUpdates int            `json:"preference_updates"`
}

// Analytics consumes domain events and keeps in-memory counters
type Analytics struct {
	mu              sync.RWMutex
	analyses        int
	cacheHits       int
	aiEnhanced      int
	degraded        map[string]int
	labels          map[string]int
	recommendations map[string]int
	prefUpdates     int
}

func NewAnalytics() *Analytics {
	return &Analytics{
		degraded:        make(map[string]int),
		labels:          make(map[string]int),
		recommendations: make(map[string]int),
	}
}

// Router wires the analytics handlers to the bus. Run it with router.Run.
func (a *Analytics) Router(bus *Bus) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, bus.Logger())
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	router.AddNoPublisherHandler("analytics-analysis", TopicAnalysisCompleted, bus.Subscriber(), a.handleAnalysis)
	router.AddNoPublisherHandler("analytics-recommendation", TopicRecommendationGenerated, bus.Subscriber(), a.handleRecommendation)
	router.AddNoPublisherHandler("analytics-preferences", TopicPreferencesUpdated, bus.Subscriber(), a.handlePreferences)
	return router, nil
}

// Start runs the analytics router until ctx is cancelled and returns once it is running
func (a *Analytics) Start(ctx context.Context, bus *Bus) (*message.Router, error) {
	router, err := a.Router(bus)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := router.Run(ctx); err != nil {
			bus.Logger().Error("analytics router stopped", err, nil)
		}
	}()
	<-router.Running()
	return router, nil
}

func (a *Analytics) handleAnalysis(msg *message.Message) error {
	var ev AnalysisCompleted
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// Unparseable events are dropped, not redelivered.
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.analyses++
	if ev.CacheHit {
		a.cacheHits++
	}
	if ev.AIEnhanced {
		a.aiEnhanced++
	}
	if ev.Degraded != "" {
		a.degraded[ev.Degraded]++
	}
	for _, l := range ev.Labels {
		a.labels[l]++
	}
	return nil
}

func (a *Analytics) handleRecommendation(msg *message.Message) error {
	var ev RecommendationGenerated
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil
	}
	a.mu.Lock()
	a.recommendations[ev.MealType]++
	a.mu.Unlock()
	return nil
}

func (a *Analytics) handlePreferences(msg *message.Message) error {
	a.mu.Lock()
	a.prefUpdates++
	a.mu.Unlock()
	return nil
}

// Snapshot returns the counters with the top n labels
func (a *Analytics) Snapshot(n int) Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	top := make([]LabelCount, 0, len(a.labels))
	for l, c := range a.labels {
		top = append(top, LabelCount{Label: l, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Label < top[j].Label
	})
	if n > 0 && len(top) > n {
		top = top[:n]
	}

	return Summary{
		Analyses:          a.analyses,
		CacheHits:         a.cacheHits,
		AIEnhanced:        a.aiEnhanced,
		Degraded:          copyCounts(a.degraded),
		TopLabels:         top,
		Recommendations:   copyCounts(a.recommendations),
		PreferenceUpdates: a.prefUpdates,
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
