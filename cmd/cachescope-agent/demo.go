package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/c360/cachescope/querycache"
)

type todo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// demo populates the cache with a few queries and a mutation so a freshly
// started agent has something to inspect. Every refetch bumps a revision so
// refetch commands are visible in the dashboard.
type demo struct {
	revision  atomic.Int64
	observers []*querycache.Observer
}

func startDemo(ctx context.Context, client *querycache.Client) (*demo, error) {
	d := &demo{}

	d.observers = append(d.observers,
		client.Observe(querycache.Options{
			QueryKey:  querycache.Key{"todos"},
			QueryFn:   d.todos,
			StaleTime: time.Minute,
		}),
		client.Observe(querycache.Options{
			QueryKey:  querycache.Key{"profile", map[string]any{"id": "me"}},
			QueryFn:   d.profile,
			StaleTime: 5 * time.Minute,
		}),
	)

	// An unobserved query shows up as inactive.
	if _, err := client.FetchQuery(ctx, querycache.Options{
		QueryKey: querycache.Key{"feature-flags"},
		QueryFn: func(context.Context, querycache.FetchContext) (any, error) {
			return map[string]any{"newOnboarding": true, "darkMode": false}, nil
		},
		GCTime: -1,
	}); err != nil {
		return nil, err
	}

	mutation := client.MutationCache().Build(querycache.MutationOptions{
		MutationKey: querycache.Key{"todos", "add"},
		MutationFn: func(_ context.Context, variables any) (any, error) {
			title, _ := variables.(string)
			return todo{ID: 4, Title: title}, nil
		},
	})
	if _, err := mutation.Execute(ctx, "Try the inspector"); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *demo) todos(context.Context, querycache.FetchContext) (any, error) {
	rev := d.revision.Add(1)
	return map[string]any{
		"revision": rev,
		"items": []todo{
			{ID: 1, Title: "Connect the inspector", Done: true},
			{ID: 2, Title: "Edit a query from the dashboard"},
			{ID: 3, Title: "Toggle the online manager"},
		},
	}, nil
}

func (d *demo) profile(context.Context, querycache.FetchContext) (any, error) {
	return map[string]any{
		"name":     "Demo User",
		"revision": d.revision.Load(),
	}, nil
}

// Stop detaches the demo observers.
func (d *demo) Stop() {
	for _, o := range d.observers {
		o.Destroy()
	}
}
