package storage

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/dataspatial/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureStorage creates an Azure Blob Storage adapter from a connection
// string or an account name and key.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns all GeoJSON blobs under the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil || !IsGeoJSONKey(*blob.Name) {
				continue
			}
			objects = append(objects, s.toStorageObject(blob))
		}
	}

	return objects, nil
}

func (s *AzureStorage) toStorageObject(blob *container.BlobItem) output.StorageObject {
	obj := output.StorageObject{Key: trimPrefix(*blob.Name, s.prefix)}
	if p := blob.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = string(*p.ETag)
		}
	}
	return obj
}

// GetReader returns the body of the blob stored under key.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, joinPrefix(s.prefix, key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, notFound(key)
		}
		return nil, err
	}
	return resp.Body, nil
}
