package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/util"
)

// ReminderDocument is the search-index projection of a reminder. Phone
// numbers and emails are deliberately excluded from the index.
type ReminderDocument struct {
	ID           string `json:"id"`
	PlateNumber  string `json:"plate_number"`
	DocumentType string `json:"document_type"`
	ExpiryDate   string `json:"expiry_date"`
	StationID    string `json:"station_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ESClient maintains the admin plate-number search index over reminders.
type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	logger *zap.Logger
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(), // self-signed certs in dev only
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
		logger: util.Get(),
	}

	if err := esClient.HealthCheck(context.Background()); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	util.Info("Elasticsearch client initialized",
		zap.String("index", esConfig.Index))

	return esClient, nil
}

// IndexReminder upserts the search projection of a reminder.
func (c *ESClient) IndexReminder(ctx context.Context, doc *ReminderDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.config.Index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.Client)
	if err != nil {
		return fmt.Errorf("failed to index reminder: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.String())
	}
	return nil
}

// DeleteReminder removes a reminder from the search index.
func (c *ESClient) DeleteReminder(ctx context.Context, reminderID string) error {
	req := esapi.DeleteRequest{
		Index:      c.config.Index,
		DocumentID: reminderID,
	}

	res, err := req.Do(ctx, c.Client)
	if err != nil {
		return fmt.Errorf("failed to delete reminder from index: %w", err)
	}
	defer res.Body.Close()

	// 404 is fine: the reminder may never have been indexed
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("elasticsearch delete error: %s", res.String())
	}
	return nil
}

// SearchByPlate finds reminders whose plate number matches the query prefix.
func (c *ESClient) SearchByPlate(ctx context.Context, plate string, limit int) ([]ReminderDocument, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"prefix": map[string]interface{}{
				"plate_number.keyword": strings.ToUpper(plate),
			},
		},
		"sort": []map[string]interface{}{
			{"created_at": map[string]string{"order": "desc"}},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := c.Client.Search(
		c.Client.Search.WithContext(ctx),
		c.Client.Search.WithIndex(c.config.Index),
		c.Client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search reminders: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source ReminderDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	docs := make([]ReminderDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

// HealthCheck pings the cluster.
func (c *ESClient) HealthCheck(ctx context.Context) error {
	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned error: %s", res.String())
	}
	return nil
}
