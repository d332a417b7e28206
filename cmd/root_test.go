package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-ingest/internal/config"
	"github.com/JakeFAU/url-ingest/internal/ingest"
)

type fakeApp struct {
	ran      bool
	batch    []string
	batchErr error
	closed   bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) RunBatch(_ context.Context, urls []string) ([]ingest.Job, error) {
	f.batch = urls
	jobs := make([]ingest.Job, 0, len(urls))
	for i, u := range urls {
		jobs = append(jobs, ingest.Job{ID: ingest.JobID(i + 1), URL: u, Status: ingest.JobStatusCompleted})
	}
	return jobs, f.batchErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandPrintsJobs(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	file := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(file, []byte("https://a.test\n# skip\nhttps://b.test\n"), 0o600))

	out, err := execute(t, "run", "--file", file)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test", "https://b.test"}, app.batch)
	require.True(t, app.closed)

	var urls []string
	scanner := bufio.NewScanner(bytes.NewBufferString(out))
	for scanner.Scan() {
		var job ingest.Job
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &job))
		urls = append(urls, job.URL)
	}
	require.Equal(t, app.batch, urls)
}

func TestRunCommandPropagatesBatchError(t *testing.T) {
	app := &fakeApp{batchErr: context.DeadlineExceeded}
	withFakeApp(t, app)

	file := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(file, []byte("https://a.test\n"), 0o600))

	out, err := execute(t, "run", "--file", file, "--timeout", "1s")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, out, "https://a.test")
	require.True(t, app.closed)
}

func TestRunCommandRequiresFile(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestRunCommandEmptyFile(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	file := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(file, []byte("# nothing here\n"), 0o600))

	_, err := execute(t, "run", "--file", file)
	require.ErrorContains(t, err, "no urls found")
	require.Nil(t, app.batch)
	require.True(t, app.closed)
}

func TestServeCommandRunsApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
}

func TestBuildFailureIsReported(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "boom")
}

func TestResolveAppMissing(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
