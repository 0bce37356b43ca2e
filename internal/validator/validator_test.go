package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

func TestValidateStructuralDuplicateID(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "a", Instance: "i1", Process: "p"},
	}
	_, err := ValidateStructural(tasks)
	var dup *rerrors.DuplicateIDError
	require.ErrorAs(t, err, &dup)
}

func TestValidateStructuralMissingPredecessor(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p", Predecessors: []string{"ghost"}},
	}
	_, err := ValidateStructural(tasks)
	var mp *rerrors.MissingPredecessorError
	require.ErrorAs(t, err, &mp)
}

func TestValidateStructuralCycle(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p", Predecessors: []string{"b"}},
		{ID: "b", Instance: "i1", Process: "p", Predecessors: []string{"a"}},
	}
	_, err := ValidateStructural(tasks)
	var cyc *rerrors.CycleError
	require.ErrorAs(t, err, &cyc)
	require.ElementsMatch(t, []string{"a", "b"}, cyc.Cycle)
}

func TestValidateStructuralAcyclic(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p", Predecessors: []string{"a"}},
	}
	dag, err := ValidateStructural(tasks)
	require.NoError(t, err)
	require.Len(t, dag.Nodes, 2)
}

type probeClient struct {
	notFound map[string]bool
}

func (c *probeClient) ExecuteProcess(context.Context, string, string, map[string]string, string) (remoteclient.ExecutionResult, error) {
	return remoteclient.ExecutionResult{}, nil
}
func (c *probeClient) CancelInvocation(context.Context, string, string) error { return nil }
func (c *probeClient) ListSessions(context.Context, string) ([]remoteclient.Session, error) {
	return nil, nil
}
func (c *probeClient) EndSession(context.Context, string, string) error { return nil }
func (c *probeClient) ExpandMembers(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (c *probeClient) ProbeProcess(_ context.Context, instance, process string) (remoteclient.ProbeResult, error) {
	if c.notFound[instance+"/"+process] {
		return remoteclient.ProbeNotFound, nil
	}
	return remoteclient.ProbeExists, nil
}

func TestValidateRemoteReportsMissing(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "good"},
		{ID: "b", Instance: "i1", Process: "bad"},
	}
	dag, err := ValidateStructural(tasks)
	require.NoError(t, err)

	client := &probeClient{notFound: map[string]bool{"i1/bad": true}}
	err = ValidateRemote(context.Background(), client, dag, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "i1/bad")
}

func TestValidateRemoteAllFound(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "good"},
	}
	dag, err := ValidateStructural(tasks)
	require.NoError(t, err)

	err = ValidateRemote(context.Background(), &probeClient{}, dag, 4)
	require.NoError(t, err)
}
