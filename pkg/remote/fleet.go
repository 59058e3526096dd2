package remote

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/ansible"
)

// HostResult is one host's slice of a fleet run.
type HostResult struct {
	Host    string
	Outcome Outcome
	Err     error
}

// Fleet fans an evaluation out over inventory hosts. Concurrency is
// bounded and launches are paced so a large inventory does not stampede
// the network.
type Fleet struct {
	Log zerolog.Logger
	// Limit caps concurrent hosts, zero means 4.
	Limit int
	// PerSecond paces host launches, zero means 5.
	PerSecond int
}

func (f *Fleet) limit() int {
	if f.Limit > 0 {
		return f.Limit
	}
	return 4
}

func (f *Fleet) perSecond() int {
	if f.PerSecond > 0 {
		return f.PerSecond
	}
	return 5
}

// Run evaluates every host and returns one result per host in input
// order. Per-host failures land in their result; they never cancel the
// rest of the fleet.
func (f *Fleet) Run(ctx context.Context, hosts []*ansible.Host,
	eval func(context.Context, *ansible.Host) (Outcome, error)) []HostResult {

	results := make([]HostResult, len(hosts))
	pacer := ratelimit.New(f.perSecond())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit())
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			pacer.Take()
			out, err := eval(ctx, h)
			results[i] = HostResult{Host: h.Name, Outcome: out, Err: err}
			if err != nil {
				f.Log.Error().Err(err).Str("host", h.Name).Msg("host evaluation failed")
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// ClientFor builds a Client for an inventory host, filling gaps from the
// defaults. Inventory vars win over flag defaults.
func ClientFor(h *ansible.Host, defaults Client) *Client {
	c := defaults
	c.Host = h.Address()
	if u := h.User(); u != "" {
		c.User = u
	}
	if v := h.Vars["ansible_port"]; v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	return &c
}
