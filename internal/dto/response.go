package dto

import "time"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// LatencyStatsResponse reports end-to-end latency counters
type LatencyStatsResponse struct {
	TotalMessages    int64  `json:"totalMessages"`
	SlowMessages     int64  `json:"slowMessages"`
	FastMessages     int64  `json:"fastMessages"`
	SlowPercentage   string `json:"slowPercentage"`
	LatencyThreshold string `json:"latencyThreshold"`
	Timestamp        int64  `json:"timestamp"`
}

// SummaryResponse describes the running pipeline
type SummaryResponse struct {
	Status           string           `json:"status"`
	Strategy         string           `json:"strategy"`
	Transformer      string           `json:"transformer"`
	Transport        string           `json:"transport"`
	Concurrency      int              `json:"concurrency"`
	BulkSize         int              `json:"bulkSize"`
	LatencyThreshold string           `json:"latencyThreshold"`
	Events           map[string]int64 `json:"events"`
}

// EventResponse is the public view of a stored event
type EventResponse struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	SourceTopic        string     `json:"sourceTopic"`
	SourcePartition    int32      `json:"sourcePartition"`
	SourceOffset       int64      `json:"sourceOffset"`
	MessageID          string     `json:"messageId,omitempty"`
	Source             string     `json:"source,omitempty"`
	Payload            string     `json:"payload"`
	TransformedPayload string     `json:"transformedPayload,omitempty"`
	DestinationTopic   string     `json:"destinationTopic,omitempty"`
	DestinationOffset  *int64     `json:"destinationOffset,omitempty"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	RetryCount         int        `json:"retryCount"`
	TotalLatencyMs     *int64     `json:"totalLatencyMs,omitempty"`
	ExceededOneSecond  *bool      `json:"exceededOneSecond,omitempty"`
	ReceivedAt         time.Time  `json:"receivedAt"`
	ProcessedAt        *time.Time `json:"processedAt,omitempty"`
	PublishedAt        *time.Time `json:"publishedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}
