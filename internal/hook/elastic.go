package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/raphi011/testrail/internal/model"
)

// ElasticRecorder indexes every delivery as a document so forwarding
// failures can be searched next to the test logs.
type ElasticRecorder struct {
	client *elasticsearch.Client
	index  string

	log *slog.Logger
}

func NewElasticRecorder(addresses []string, index string, log *slog.Logger) (*ElasticRecorder, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &ElasticRecorder{client: es, index: index, log: log}, nil
}

func (r *ElasticRecorder) Name() string {
	return "elastic-search"
}

func (r *ElasticRecorder) RecordDelivery(ctx context.Context, d model.Delivery) {
	if err := r.indexDelivery(ctx, d); err != nil {
		r.log.Error("unable to index delivery", "recorder", r.Name(), "operation", d.Operation, "run-id", d.RunID, "error", err)
	}
}

func (r *ElasticRecorder) indexDelivery(ctx context.Context, d model.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}

	res, err := r.client.Index(r.index, bytes.NewReader(b), r.client.Index.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing document: %s", res.Status())
	}

	return nil
}
