package stores

import (
	"context"
	"design-editor/core"
	"design-editor/stores/aws"
	"design-editor/stores/filesystem"
	"design-editor/stores/memory"
	"design-editor/stores/sqlite"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Store persists documents and their patch history.
type Store interface {
	core.DocumentStore
	core.HistoryStore
}

// GetStore picks the backend named by STORAGE_TYPE: filesystem, sqlite, s3
// or, by default, memory.
func GetStore(ctx context.Context) (Store, error) {
	storageType := os.Getenv("STORAGE_TYPE")
	var (
		store Store
		err   error
	)

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		storageField["basePath"] = basePath
		store, err = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		storageField["dataSourceName"] = dataSourceName
		store, err = sqlite.NewStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		storageField["bucketName"] = bucketName
		if bucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME is required for s3 storage")
		}
		store, err = aws.NewStore(ctx, bucketName)
	case "", "memory":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", storageType)
	}
	if err != nil {
		logrus.WithFields(storageField).WithError(err).Error("Failed to open storage")
		return nil, err
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
