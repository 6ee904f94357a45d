package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureStore is a Store backed by a single Azure Blob Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore builds a Store against the given container using a
// connection string (the simplest of the SDK's auth paths, matching what a
// single-node deployment profile would configure).
func NewAzureStore(connectionString, containerName string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &AzureStore{client: client, container: containerName}, nil
}

func (a *AzureStore) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := a.client.UploadStream(ctx, a.container, key, r, nil)
	if err != nil {
		return fmt.Errorf("azure upload %s: %w", key, err)
	}
	return nil
}

func (a *AzureStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := a.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := a.client.DeleteBlob(ctx, a.container, key, nil); err != nil {
			return fmt.Errorf("azure delete %s: %w", key, err)
		}
	}
	return nil
}

func (a *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := a.client.NewListBlobsFlatPager(a.container, &container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure list %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}
