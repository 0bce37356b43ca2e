package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubewise-code/rushti/pkg/remoteclient"
)

type fakeClient struct {
	members map[string][]string
}

func (f *fakeClient) ExecuteProcess(context.Context, string, string, map[string]string, string) (remoteclient.ExecutionResult, error) {
	return remoteclient.ExecutionResult{}, nil
}
func (f *fakeClient) CancelInvocation(context.Context, string, string) error { return nil }
func (f *fakeClient) ListSessions(context.Context, string) ([]remoteclient.Session, error) {
	return nil, nil
}
func (f *fakeClient) EndSession(context.Context, string, string) error { return nil }
func (f *fakeClient) ExpandMembers(_ context.Context, _ string, expr string) ([]string, error) {
	return f.members[expr], nil
}
func (f *fakeClient) ProbeProcess(context.Context, string, string) (remoteclient.ProbeResult, error) {
	return remoteclient.ProbeExists, nil
}

func TestDetect(t *testing.T) {
	require.Equal(t, FormStructured, Detect("workflow.yaml", nil))
	require.Equal(t, FormStructured, Detect("workflow.json", nil))
	require.Equal(t, FormDependency, Detect("w.txt", []byte("id=a process=p predecessors=b")))
	require.Equal(t, FormWaitBarrier, Detect("w.txt", []byte("id=a process=p")))
}

func TestParseWaitBarrierForm(t *testing.T) {
	content := []byte(
		"id=a instance=i1 process=load\n" +
			"id=b instance=i1 process=load\n" +
			"wait\n" +
			"id=c instance=i1 process=consolidate\n",
	)
	res, err := Parse(context.Background(), &fakeClient{}, "w.txt", content, FormWaitBarrier)
	require.NoError(t, err)
	require.Len(t, res.DAG.Nodes, 3)
	require.ElementsMatch(t, []string{"a", "b"}, res.DAG.Nodes["c"].Task.Predecessors)
	require.Empty(t, res.DAG.Nodes["a"].Task.Predecessors)
}

func TestParseDependencyForm(t *testing.T) {
	content := []byte(
		"id=a instance=i1 process=load\n" +
			"id=b instance=i1 process=consolidate predecessors=a\n",
	)
	res, err := Parse(context.Background(), &fakeClient{}, "w.txt", content, FormDependency)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, res.DAG.Nodes["b"].Task.Predecessors)
	require.Equal(t, []string{"b"}, res.DAG.Nodes["a"].Successors)
}

func TestParseStructuredForm(t *testing.T) {
	content := []byte(`
tasks:
  - id: a
    instance: i1
    process: load
  - id: b
    instance: i1
    process: consolidate
    predecessors: [a]
    parameters:
      region: east
`)
	res, err := Parse(context.Background(), &fakeClient{}, "w.yaml", content, FormUnknown)
	require.NoError(t, err)
	require.Len(t, res.DAG.Nodes, 2)
	require.Equal(t, "east", res.DAG.Nodes["b"].Task.ParamMap()["region"])
}

func TestExpandTemplate(t *testing.T) {
	content := []byte(`id=tmpl instance=i1 process=load region*=*{all_regions}` + "\n")
	client := &fakeClient{members: map[string][]string{"all_regions": {"east", "west"}}}
	res, err := Parse(context.Background(), client, "w.txt", content, FormWaitBarrier)
	require.NoError(t, err)
	require.Len(t, res.DAG.Nodes, 2)
	require.Contains(t, res.DAG.Nodes, "tmpl_east")
	require.Contains(t, res.DAG.Nodes, "tmpl_west")
}

func TestExpandFansOutPredecessors(t *testing.T) {
	content := []byte(
		"id=tmpl instance=i1 process=load region*=*{all_regions}\n" +
			"id=consolidate instance=i1 process=roll predecessors=tmpl\n",
	)
	client := &fakeClient{members: map[string][]string{"all_regions": {"east", "west"}}}
	res, err := Parse(context.Background(), client, "w.txt", content, FormDependency)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tmpl_east", "tmpl_west"}, res.DAG.Nodes["consolidate"].Task.Predecessors)
}

func TestEmitRoundTrip(t *testing.T) {
	content := []byte(`
tasks:
  - id: a
    instance: i1
    process: load
  - id: b
    instance: i1
    process: consolidate
    predecessors: [a]
`)
	res, err := Parse(context.Background(), &fakeClient{}, "w.yaml", content, FormStructured)
	require.NoError(t, err)

	out, err := Emit(res.DAG)
	require.NoError(t, err)

	res2, err := Parse(context.Background(), &fakeClient{}, "w.yaml", out, FormStructured)
	require.NoError(t, err)
	require.Len(t, res2.DAG.Nodes, 2)
	require.Equal(t, []string{"a"}, res2.DAG.Nodes["b"].Task.Predecessors)
}
