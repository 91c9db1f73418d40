package storage

import "context"

// IService resolves model artifacts to local paths. Fetch is idempotent: an
// artifact already present locally is never downloaded again.
type IService interface {
	Fetch(ctx context.Context, artifactID, fileName string) (string, error)
}
