package main

import (
	"context"
	"fmt"
	"path"

	"dagger/semsearch/internal/dagger"
)

// bucket is an S3-compatible object store that release artifacts are
// published to.
type bucket struct {
	endpoint        *dagger.Secret
	name            *dagger.Secret
	accessKeyId     *dagger.Secret
	secretAccessKey *dagger.Secret
}

// publish syncs artifacts into the bucket once per prefix.
func (t *Semsearch) publish(ctx context.Context, b bucket, artifacts *dagger.Directory, prefixes ...string) error {
	name, err := b.name.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket name: %w", err)
	}
	endpoint, err := b.endpoint.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket endpoint: %w", err)
	}

	ctr := dag.Container().
		From("amazon/aws-cli:latest").
		WithSecretVariable("AWS_ACCESS_KEY_ID", b.accessKeyId).
		WithSecretVariable("AWS_SECRET_ACCESS_KEY", b.secretAccessKey).
		WithEnvVariable("AWS_DEFAULT_REGION", "auto").
		WithDirectory("/artifacts", withChecksums(artifacts)).
		WithWorkdir("/artifacts")

	for _, prefix := range prefixes {
		dest := "s3://" + path.Join(name, prefix)
		ctr = ctr.WithExec([]string{"aws", "s3", "sync", ".", dest, "--endpoint-url", endpoint})
	}

	if _, err := ctr.Sync(ctx); err != nil {
		return fmt.Errorf("syncing artifacts to %v: %w", prefixes, err)
	}
	return nil
}

// withChecksums adds a SHA256SUMS file covering every built binary.
func withChecksums(artifacts *dagger.Directory) *dagger.Directory {
	sums := dag.Container().
		From("alpine:3").
		WithDirectory("/artifacts", artifacts).
		WithWorkdir("/artifacts").
		WithExec([]string{"sh", "-c", "find . -type f ! -name SHA256SUMS | sort | xargs sha256sum > SHA256SUMS"}).
		File("/artifacts/SHA256SUMS")

	return artifacts.WithFile("SHA256SUMS", sums)
}

// ReleaseLatest builds versioned binaries and publishes them under both the
// version and "latest" prefixes.
func (t *Semsearch) ReleaseLatest(
	ctx context.Context,

	// Version string (e.g., "v1.0.0")
	version string,

	// Git commit SHA
	commit string,

	endpoint *dagger.Secret,
	bucketName *dagger.Secret,
	accessKeyId *dagger.Secret,
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	artifacts := t.BuildRelease(ctx, version, commit)
	b := bucket{endpoint, bucketName, accessKeyId, secretAccessKey}

	if err := t.publish(ctx, b, artifacts, version, "latest"); err != nil {
		return artifacts, err
	}
	return artifacts, nil
}

// Nightly builds from the given commit and publishes under "nightly".
func (t *Semsearch) Nightly(
	ctx context.Context,

	// Git commit SHA
	commit string,

	endpoint *dagger.Secret,
	bucketName *dagger.Secret,
	accessKeyId *dagger.Secret,
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	artifacts := t.BuildRelease(ctx, "nightly", commit)
	b := bucket{endpoint, bucketName, accessKeyId, secretAccessKey}

	return artifacts, t.publish(ctx, b, artifacts, "nightly")
}
