package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliacert/extract-cli/internal/model"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessBatch_FailuresDoNotAbort(t *testing.T) {
	dir := t.TempDir()
	good := writeTestFile(t, dir, "good.txt", "Gas Safety Record")
	bad := writeTestFile(t, dir, "bad.txt", "unreadable for extraction")

	var calls atomic.Int64
	err := processBatch(context.Background(), []batchEntry{{Path: good}, {Path: bad}}, 0, 2,
		func(_ context.Context, doc model.Document) (*model.ExtractionResult, error) {
			calls.Add(1)
			if doc.Filename == "bad.txt" {
				return nil, eris.New("boom")
			}
			return &model.ExtractionResult{Status: model.AttemptSuccess, TierReached: model.TierTemplate}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessBatch_AppliesLimit(t *testing.T) {
	dir := t.TempDir()
	entries := []batchEntry{
		{Path: writeTestFile(t, dir, "a.txt", "a")},
		{Path: writeTestFile(t, dir, "b.txt", "b")},
		{Path: writeTestFile(t, dir, "c.txt", "c")},
	}

	var calls atomic.Int64
	err := processBatch(context.Background(), entries, 2, 1,
		func(context.Context, model.Document) (*model.ExtractionResult, error) {
			calls.Add(1)
			return &model.ExtractionResult{Status: model.AttemptSuccess}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessBatch_MissingFileCountsAsFailed(t *testing.T) {
	var calls atomic.Int64
	err := processBatch(context.Background(), []batchEntry{{Path: "/nonexistent/cert.pdf"}}, 0, 1,
		func(context.Context, model.Document) (*model.ExtractionResult, error) {
			calls.Add(1)
			return nil, nil
		})

	require.NoError(t, err)
	assert.Equal(t, int64(0), calls.Load(), "extract must not run when the file cannot be loaded")
}

func TestProcessBatch_Empty(t *testing.T) {
	err := processBatch(context.Background(), nil, 0, 4,
		func(context.Context, model.Document) (*model.ExtractionResult, error) {
			t.Fatal("should not be called")
			return nil, nil
		})
	require.NoError(t, err)
}

func TestCollectDocuments_Directory(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "cert.pdf", "%PDF-1.4")
	writeTestFile(t, dir, "scan.PNG", "png")
	writeTestFile(t, dir, "notes.bin", "skip me")

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeTestFile(t, sub, "deep.jpg", "jpg")

	entries, err := collectDocuments(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, filepath.Base(e.Path))
	}
	assert.ElementsMatch(t, []string{"cert.pdf", "scan.PNG", "deep.jpg"}, names)
}

func TestCollectDocuments_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "cert.pdf", "%PDF-1.4")

	entries, err := collectDocuments(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, path, entries[0].Path)
}

func TestCollectDocuments_Manifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeTestFile(t, dir, "docs.csv",
		"certs/gas.pdf,GAS_SAFETY\ncerts/eicr.pdf,EICR\ncerts/unknown.pdf\n\n")

	entries, err := collectDocuments(manifest)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "certs/gas.pdf", entries[0].Path)
	assert.Equal(t, "GAS_SAFETY", entries[0].DeclaredType)
	assert.Equal(t, "", entries[2].DeclaredType)
}

func TestMimeForFile(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeForFile("cert.PDF"))
	assert.Equal(t, "image/jpeg", mimeForFile("scan.jpeg"))
	assert.Equal(t, "image/png", mimeForFile("scan.png"))
	assert.Equal(t, "text/plain", mimeForFile("cert.txt"))
	assert.Equal(t, "application/octet-stream", mimeForFile("cert"))
}
