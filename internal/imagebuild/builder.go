// Package imagebuild builds node container images from a build directory
// through the Docker Engine API.
package imagebuild

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/client"

	"fleetrun/internal/logging"
)

// Builder builds node images through the Docker Engine API.
type Builder struct {
	Client client.APIClient
}

// Build builds the image in contextDir under tag and returns its content
// digest.
func (b *Builder) Build(ctx context.Context, tag, contextDir string) (string, error) {
	log := logging.Component("image-builder")

	buildCtx, err := tarDirectory(contextDir)
	if err != nil {
		return "", fmt.Errorf("package build context %s: %w", contextDir, err)
	}

	log.Info("building node image", "tag", tag, "context", contextDir)
	resp, err := b.Client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:       []string{tag},
		Remove:     true,
		PullParent: true,
	})
	if err != nil {
		return "", fmt.Errorf("build image %s: %w", tag, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", fmt.Errorf("build image %s: read response: %w", tag, err)
	}

	info, err := b.Client.ImageInspect(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("inspect built image %s: %w", tag, err)
	}
	return info.ID, nil
}

// tarDirectory packages dir as an in-memory tar stream for the build API.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
