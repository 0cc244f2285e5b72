//go:build integration

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/gulp/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	files := []testutils.TestFile{
		{Name: "cli/small.bin", Size: 64 * 1024},
		{Name: "cli/large.bin", Size: 12*1024*1024 + 3},
	}
	for i := range files {
		files[i].Data = testutils.GenerateTestData(t, files[i].Size)
	}

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-test-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()
	minio.Seed(t, ctx, files)

	t.Setenv("GULP_S3_PATH_STYLE", "true")
	t.Setenv("GULP_S3_DISABLE_SSL", "true")

	t.Run("s3", func(t *testing.T) {
		opts := minio.S3Options()

		out := t.TempDir()
		var stderr bytes.Buffer
		exitCode := run([]string{
			"get",
			"--region", opts.Region,
			"--endpoint", opts.Endpoint,
			"--output-dir", out,
			"--workers", "4",
			minio.Bucket, files[0].Name, files[1].Name,
		}, &stderr)
		if exitCode != ExitSuccess {
			t.Fatalf("get failed with exit code %d:\n%s", exitCode, stderr.String())
		}
		for _, f := range files {
			testutils.CompareFileToData(t, filepath.Join(out, filepath.FromSlash(f.Name)), f.Data)
		}
	})

	t.Run("blob", func(t *testing.T) {
		out := t.TempDir()
		var stderr bytes.Buffer
		exitCode := run([]string{
			"get",
			"--store", "blob",
			"--bucket-url", minio.BucketURLTemplate(),
			"--output-dir", out,
			minio.Bucket, files[1].Name,
		}, &stderr)
		if exitCode != ExitSuccess {
			t.Fatalf("get failed with exit code %d:\n%s", exitCode, stderr.String())
		}
		testutils.CompareFileToData(t, filepath.Join(out, "cli", "large.bin"), files[1].Data)
	})

	t.Run("not_found", func(t *testing.T) {
		var stderr bytes.Buffer
		exitCode := run([]string{
			"get",
			"--region", "us-east-1",
			"--endpoint", minio.S3Options().Endpoint,
			"--output-dir", t.TempDir(),
			minio.Bucket, "missing.bin",
		}, &stderr)
		if exitCode != ExitNotAccessible {
			t.Fatalf("expected exit code %d, got %d:\n%s", ExitNotAccessible, exitCode, stderr.String())
		}
	})
}
