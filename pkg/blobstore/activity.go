package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-obo/pkg/downstream"
	"github.com/tendant/simple-obo/pkg/obo"
	"github.com/tendant/simple-obo/pkg/oboerrors"
	"github.com/tendant/simple-obo/pkg/orchestration"
)

// EnumerationResult is the activity output: the enumerated blob names
type EnumerationResult struct {
	Blobs []string `json:"Blobs"`
}

// EnumerateActivity builds the blob enumeration activity. The activity
// input is the user assertion carried as orchestration input; the activity
// performs the second delegation hop for the storage audience, then lists
// the container. Enumeration is a read, so re-invocation after a crash that
// lost the recorded result is harmless.
func EnumerateActivity(exchanger *obo.Exchanger, client *Client, storageScope, container string) orchestration.Activity {
	return func(ctx context.Context, input string) (string, error) {
		token, err := exchanger.Exchange(ctx, obo.Request{
			UserAssertion: input,
			Scope:         storageScope,
		})
		if err != nil {
			return "", oboerrors.Wrap(err, oboerrors.ClassifyDelegationError(err), "storage delegation failed")
		}

		names, err := client.ListBlobs(ctx, container, token.AccessToken)
		if err != nil {
			return "", oboerrors.Wrap(err, downstream.Classify(err), "blob enumeration failed")
		}

		slog.Info("enumerated blobs", "container", container, "count", len(names))

		output, err := json.Marshal(EnumerationResult{Blobs: names})
		if err != nil {
			return "", fmt.Errorf("failed to marshal enumeration result: %w", err)
		}
		return string(output), nil
	}
}
