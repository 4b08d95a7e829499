package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const apiPrefix = "/api/v1"

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/health"}, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) ListSensors(ctx context.Context) ([]Sensor, error) {
	var resp struct {
		Sensors []Sensor `json:"sensors"`
	}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/sensors"}, &resp); err != nil {
		return nil, err
	}
	return resp.Sensors, nil
}

func (c *Client) GetSensor(ctx context.Context, id string) (*Sensor, error) {
	var s Sensor
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/sensors/" + url.PathEscape(id)}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ListJobs(ctx context.Context, filter JobFilter) (*JobList, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Sensor != "" {
		q.Set("sensor", filter.Sensor)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	var list JobList
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/jobs", Query: q}, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/jobs/" + url.PathEscape(id)}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) SubmitJob(ctx context.Context, req JobRequest) (*Job, error) {
	var j Job
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/jobs", Body: req}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) CancelJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/jobs/" + url.PathEscape(id) + "/cancel"}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// NetworkTopology fetches the inter-site traffic graph. When sites are
// given the graph is filtered with FilterTopology.
func (c *Client) NetworkTopology(ctx context.Context, sites ...string) (*Topology, error) {
	var t Topology
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/network/topology"}, &t); err != nil {
		return nil, err
	}
	filtered := FilterTopology(t, sites...)
	return &filtered, nil
}

// FilterTopology keeps the links touching any of the selected sites and the
// sites at either end of those links. Selected sites with no traffic are
// kept. With no selection the topology is returned unchanged.
func FilterTopology(t Topology, sites ...string) Topology {
	if len(sites) == 0 {
		return t
	}
	selected := make(map[string]bool, len(sites))
	for _, s := range sites {
		selected[s] = true
	}

	keep := make(map[string]bool, len(sites))
	for s := range selected {
		keep[s] = true
	}
	out := Topology{GeneratedAt: t.GeneratedAt, Links: []Link{}, Sites: []Site{}}
	for _, l := range t.Links {
		if selected[l.Source] || selected[l.Target] {
			out.Links = append(out.Links, l)
			keep[l.Source] = true
			keep[l.Target] = true
		}
	}
	for _, s := range t.Sites {
		if keep[s.Name] {
			out.Sites = append(out.Sites, s)
		}
	}
	return out
}
