package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/pkg/budget"
	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/ledger"
	"github.com/reelforge/reelforge/pkg/models"
)

type fakeReconciler struct {
	calls []string
	job   *models.VideoJob
}

func (f *fakeReconciler) Reconcile(_ context.Context, id string) (*models.VideoJob, error) {
	f.calls = append(f.calls, id)
	return f.job, nil
}

type env struct {
	srv    *Server
	ledger *ledger.SQLiteLedger
	jobs   *jobs.SQLiteStore
	rec    *fakeReconciler
	clock  *clock.Fake
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "reelforge.db")
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	l, err := ledger.New(dbPath, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	js, err := jobs.New(dbPath, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = js.Close() })

	rec := &fakeReconciler{}
	srv := New(Deps{
		Budget:     budget.NewEvaluator(300, models.DefaultThresholds(), l, clk, nil),
		Costs:      l,
		Jobs:       js,
		Reconciler: rec,
		Clock:      clk,
		Version:    "test",
	})
	return &env{srv: srv, ledger: l, jobs: js, rec: rec, clock: clk}
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	require.NoError(t, err)
	line = append(line, '\n')

	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), bytes.NewReader(line), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), "raw: %s", out.String())
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, err := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	require.NoError(t, err)
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: params})
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result ToolCallResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.NotEmpty(t, result.Content)
	return result
}

func TestInitialize(t *testing.T) {
	e := newEnv(t)
	resp := sendAndReceive(t, e.srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "reelforge", result.ServerInfo.Name)
	assert.Equal(t, "test", result.ServerInfo.Version)
}

func TestToolsList(t *testing.T) {
	e := newEnv(t)
	resp := sendAndReceive(t, e.srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	require.NoError(t, json.Unmarshal(data, &result))

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"reelforge_budget", "reelforge_costs", "reelforge_job_status", "reelforge_jobs"}, names)
}

func TestUnknownMethodAndNotification(t *testing.T) {
	e := newEnv(t)
	resp := sendAndReceive(t, e.srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "resources/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" + `{"jsonrpc":"2.0","method":"notifications/cancelled"}` + "\n")
	require.NoError(t, e.srv.Run(context.Background(), in, &out))
	assert.Empty(t, out.String())
}

func TestParseError(t *testing.T) {
	e := newEnv(t)
	var out bytes.Buffer
	require.NoError(t, e.srv.Run(context.Background(), strings.NewReader("{not json\n"), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestUnknownTool(t *testing.T) {
	e := newEnv(t)
	result := callTool(t, e.srv, "reelforge_nope", `{}`)
	assert.True(t, result.IsError)
}

func TestBudgetTool(t *testing.T) {
	e := newEnv(t)
	_, err := e.ledger.Record(context.Background(), models.CostEntry{Service: models.ServiceVideoProvider, Amount: 270})
	require.NoError(t, err)

	text := callTool(t, e.srv, "reelforge_budget", `{}`).Content[0].Text
	assert.Contains(t, text, "$300.00")
	assert.Contains(t, text, "$30.00")
	assert.Contains(t, text, "emergency")
	assert.Contains(t, text, "blocked")
	assert.Contains(t, text, "video-provider")
}

func TestBudgetNotConfigured(t *testing.T) {
	srv := New(Deps{Version: "test"})
	result := callTool(t, srv, "reelforge_budget", `{}`)
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "not configured")
}

func TestCostsTool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.Record(ctx, models.CostEntry{Service: models.ServiceChatModel, Amount: 1.25, Description: "old"})
	require.NoError(t, err)
	e.clock.Advance(2 * time.Hour)
	_, err = e.ledger.Record(ctx, models.CostEntry{Service: models.ServiceVideoProvider, Amount: 6, Description: "video generation 8s", JobID: "job-1"})
	require.NoError(t, err)

	text := callTool(t, e.srv, "reelforge_costs", `{"window":"1h"}`).Content[0].Text
	assert.Contains(t, text, "video generation 8s")
	assert.NotContains(t, text, "old")
	assert.Contains(t, text, "1 entries, $6.00 total")

	result := callTool(t, e.srv, "reelforge_costs", `{"window":"soon"}`)
	assert.True(t, result.IsError)
}

func TestJobStatusTool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.jobs.Create(ctx, &models.VideoJob{ID: "job-1", Prompt: "a red fox", ProviderOperationID: "operations/op-1", EstimatedCost: 6}))

	e.rec.job = &models.VideoJob{ID: "job-1", Prompt: "a red fox", Status: models.JobProcessing, Progress: 40, ProviderOperationID: "operations/op-1"}
	text := callTool(t, e.srv, "reelforge_job_status", `{"job_id":"job-1"}`).Content[0].Text
	assert.Contains(t, text, "processing (40%)")
	assert.Equal(t, []string{"job-1"}, e.rec.calls)

	text = callTool(t, e.srv, "reelforge_job_status", `{"job_id":"job-1","refresh":false}`).Content[0].Text
	assert.Contains(t, text, "pending (0%)")
	assert.Len(t, e.rec.calls, 1)
}

func TestJobStatusErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.True(t, callTool(t, e.srv, "reelforge_job_status", `{}`).IsError)

	result := callTool(t, e.srv, "reelforge_job_status", `{"job_id":"missing"}`)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "not found")

	require.NoError(t, e.jobs.Create(ctx, &models.VideoJob{ID: "job-old", Prompt: "fox", ProviderOperationID: "op"}))
	e.clock.Advance(25 * time.Hour)
	result = callTool(t, e.srv, "reelforge_job_status", `{"job_id":"job-old"}`)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "expired")
	assert.Empty(t, e.rec.calls)
}

func TestJobsTool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.jobs.Create(ctx, &models.VideoJob{ID: "job-a", Prompt: "first", ProviderOperationID: "op-a"}))
	require.NoError(t, e.jobs.Create(ctx, &models.VideoJob{ID: "job-b", Prompt: "second", ProviderOperationID: "op-b", Status: models.JobProcessing}))

	text := callTool(t, e.srv, "reelforge_jobs", `{}`).Content[0].Text
	assert.Contains(t, text, "job-a")
	assert.Contains(t, text, "job-b")

	text = callTool(t, e.srv, "reelforge_jobs", `{"status":"processing"}`).Content[0].Text
	assert.Contains(t, text, "job-b")
	assert.NotContains(t, text, "job-a")

	assert.True(t, callTool(t, e.srv, "reelforge_jobs", `{"status":"done"}`).IsError)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
