package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walktour/pkg/model"
)

func noopStep(ctx context.Context, s *State) (Update, error) { return Update{}, nil }
func noopFan(ctx context.Context, s *State) ([]Send, error)  { return nil, nil }
func noopBranch(ctx context.Context, s *State, arg any) (Update, error) {
	return Update{}, nil
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Graph
		wantErr string
	}{
		{
			name: "Valid",
			build: func() *Graph {
				return NewGraph().
					AddNode(Node{Name: "a", Step: noopStep}).
					AddNode(Node{Name: "fan", FanOut: noopFan, Target: "work"}).
					AddNode(Node{Name: "work", Branch: noopBranch}).
					AddEdge("a", "fan").AddEdge("work", End).SetEntry("a")
			},
		},
		{
			name:    "MissingEntry",
			build:   func() *Graph { return NewGraph().AddNode(Node{Name: "a", Step: noopStep}).SetEntry("b") },
			wantErr: "entry",
		},
		{
			name: "DanglingEdge",
			build: func() *Graph {
				return NewGraph().AddNode(Node{Name: "a", Step: noopStep}).AddEdge("a", "b").SetEntry("a")
			},
			wantErr: "undefined node",
		},
		{
			name: "NoOutgoingEdge",
			build: func() *Graph {
				return NewGraph().AddNode(Node{Name: "a", Step: noopStep}).SetEntry("a")
			},
			wantErr: "no outgoing edge",
		},
		{
			name: "Cycle",
			build: func() *Graph {
				return NewGraph().
					AddNode(Node{Name: "a", Step: noopStep}).
					AddNode(Node{Name: "b", Step: noopStep}).
					AddEdge("a", "b").AddEdge("b", "a").SetEntry("a")
			},
			wantErr: "cycle",
		},
		{
			name: "Unreachable",
			build: func() *Graph {
				return NewGraph().
					AddNode(Node{Name: "a", Step: noopStep}).
					AddNode(Node{Name: "orphan", Step: noopStep}).
					AddEdge("a", End).AddEdge("orphan", End).SetEntry("a")
			},
			wantErr: "unreachable",
		},
		{
			name: "FanOutTargetNotBranch",
			build: func() *Graph {
				return NewGraph().
					AddNode(Node{Name: "fan", FanOut: noopFan, Target: "a"}).
					AddNode(Node{Name: "a", Step: noopStep}).
					AddEdge("a", End).SetEntry("fan")
			},
			wantErr: "not a branch node",
		},
		{
			name: "AmbiguousKind",
			build: func() *Graph {
				return NewGraph().AddNode(Node{Name: "a", Step: noopStep, Branch: noopBranch}).AddEdge("a", End).SetEntry("a")
			},
			wantErr: "exactly one",
		},
		{
			name: "Duplicate",
			build: func() *Graph {
				return NewGraph().
					AddNode(Node{Name: "a", Step: noopStep}).
					AddNode(Node{Name: "a", Step: noopStep}).
					AddEdge("a", End).SetEntry("a")
			},
			wantErr: "duplicate",
		},
		{
			name: "BranchOnMainPath",
			build: func() *Graph {
				return NewGraph().
					AddNode(Node{Name: "a", Step: noopStep}).
					AddNode(Node{Name: "w", Branch: noopBranch}).
					AddEdge("a", "w").AddEdge("w", End).SetEntry("a")
			},
			wantErr: "plain edge",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.build().Compile(Options{})
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "fan"}, c.Path())
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// fanGraph emits one branch per index; each branch sleeps inversely to its
// index so completion order is the reverse of submission order.
func fanGraph(t *testing.T, n int, branch BranchFunc, opts Options) *Compiled {
	t.Helper()
	fan := func(ctx context.Context, s *State) ([]Send, error) {
		sends := make([]Send, n)
		for i := range n {
			sends[i] = Send{Arg: i}
		}
		return sends, nil
	}
	c, err := NewGraph().
		AddNode(Node{Name: "fan", Phase: PhaseScriptsInFlight, FanOut: fan, Target: "work", Joined: PhaseScriptsComplete}).
		AddNode(Node{Name: "work", Branch: branch}).
		AddEdge("work", End).
		SetEntry("fan").
		Compile(opts)
	require.NoError(t, err)
	return c
}

func TestRun_FanOutMergesInSubmissionOrder(t *testing.T) {
	const n = 6
	var running, peak atomic.Int32
	branch := func(ctx context.Context, s *State, arg any) (Update, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		i := arg.(int)
		time.Sleep(time.Duration(n-i) * 5 * time.Millisecond)
		// Every branch also rewrites the intro; the last submitted wins
		return Update{Scripts: model.Scripts{
			Intro: &model.ScriptEntry{Content: "from " + string(rune('a'+i))},
			Stops: map[int]model.ScriptEntry{i: {Status: model.UnitComplete}},
		}}, nil
	}

	s := NewState(model.Session{}, nil)
	require.NoError(t, fanGraph(t, n, branch, Options{MaxConcurrency: 3}).Run(context.Background(), s))

	assert.Len(t, s.Scripts.Stops, n)
	assert.Equal(t, "from f", s.Scripts.Intro.Content)
	assert.Equal(t, PhaseScriptsComplete, s.Phase)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_BranchErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	branch := func(ctx context.Context, s *State, arg any) (Update, error) {
		if arg.(int) == 2 {
			return Update{}, boom
		}
		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()
		case <-time.After(time.Second):
			return Update{}, nil
		}
	}

	s := NewState(model.Session{}, nil)
	err := fanGraph(t, 4, branch, Options{MaxConcurrency: 4}).Run(context.Background(), s)
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, s.Scripts.Stops, "nothing merges from an aborted fan-out")
	assert.Equal(t, PhaseScriptsInFlight, s.Phase)
}

func TestRun_Hooks(t *testing.T) {
	var visited []string
	stopErr := errors.New("stop here")
	c, err := NewGraph().
		AddNode(Node{Name: "a", Step: noopStep}).
		AddNode(Node{Name: "b", Step: func(ctx context.Context, s *State) (Update, error) {
			t.Fatal("b must not run")
			return Update{}, nil
		}}).
		AddEdge("a", "b").AddEdge("b", End).SetEntry("a").
		Compile(Options{
			Before: func(ctx context.Context, node string, s *State) error {
				if node == "b" {
					return stopErr
				}
				return nil
			},
			After: func(ctx context.Context, node string, s *State) error {
				visited = append(visited, node)
				return nil
			},
		})
	require.NoError(t, err)

	err = c.Run(context.Background(), NewState(model.Session{}, nil))
	assert.True(t, errors.Is(err, stopErr))
	assert.Equal(t, []string{"a"}, visited)
}

func TestRun_CancelledContext(t *testing.T) {
	cause := errors.New("shutdown")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	c, err := NewGraph().AddNode(Node{Name: "a", Step: noopStep}).AddEdge("a", End).SetEntry("a").Compile(Options{})
	require.NoError(t, err)
	assert.True(t, errors.Is(c.Run(ctx, NewState(model.Session{}, nil)), cause))
}
