package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/asd-go/service/config"
	"github.com/khaledhikmat/asd-go/service/lgr"
)

const (
	lockRetryDelay  = 250 * time.Millisecond
	downloadTimeout = 30 * time.Minute
)

type remoteService struct {
	CfgSvc     config.IService
	HTTPClient *http.Client
	group      singleflight.Group
}

type Option func(*remoteService)

// WithHTTPClient overrides the client used for downloads
func WithHTTPClient(client *http.Client) Option {
	return func(svc *remoteService) {
		if client != nil {
			svc.HTTPClient = client
		}
	}
}

// NewRemote returns a store that keeps artifacts in the models folder and
// downloads missing ones from the remote blob store. Downloads of the same
// artifact are collapsed within the process and serialized across processes
// with a lock file next to the artifact.
func NewRemote(cfgsvc config.IService, opts ...Option) IService {
	svc := &remoteService{
		CfgSvc:     cfgsvc,
		HTTPClient: &http.Client{Timeout: downloadTimeout},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (svc *remoteService) Fetch(ctx context.Context, artifactID, fileName string) (string, error) {
	path := filepath.Join(svc.CfgSvc.GetModelsFolder(), fileName)
	if exists(path) {
		lgr.Logger.Debug("artifact already exists, skipping download",
			slog.String("file", fileName),
		)
		return path, nil
	}

	// The shared download outlives any single caller; each caller only stops
	// waiting when its own context ends
	result := svc.group.DoChan(path, func() (interface{}, error) {
		dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
		defer cancel()
		return nil, svc.download(dlCtx, artifactID, path)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return "", res.Err
		}
	}

	return path, nil
}

func (svc *remoteService) download(ctx context.Context, artifactID, path string) error {
	template := svc.CfgSvc.GetArtifactURLTemplate()
	if template == "" || artifactID == "" {
		return xerrors.Errorf("artifact %s is missing and has no remote source", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("create models folder: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return xerrors.Errorf("lock artifact %s: %w", path, err)
	}
	if !locked {
		return xerrors.Errorf("could not lock artifact %s", path)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// Another process may have finished the download while we waited
	if exists(path) {
		return nil
	}

	url := fmt.Sprintf(template, artifactID)
	lgr.Logger.Info("downloading artifact",
		slog.String("file", filepath.Base(path)),
		slog.String("artifactID", artifactID),
	)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return xerrors.Errorf("build artifact request: %w", err)
	}

	resp, err := svc.HTTPClient.Do(req)
	if err != nil {
		return xerrors.Errorf("download artifact %s: %w", artifactID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("download artifact %s: unexpected status %d", artifactID, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return xerrors.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return xerrors.Errorf("write artifact %s: %w", artifactID, err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Errorf("close artifact %s: %w", artifactID, err)
	}
	if written == 0 {
		return xerrors.Errorf("artifact %s is empty", artifactID)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return xerrors.Errorf("move artifact into place: %w", err)
	}

	lgr.Logger.Info("downloaded artifact",
		slog.String("file", filepath.Base(path)),
		slog.Int64("bytes", written),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
