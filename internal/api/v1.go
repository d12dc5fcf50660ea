package api

import "time"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
}

type LayerStatusResponse struct {
	Layer               int    `json:"layer"`
	Name                string `json:"name"`
	ActivationThreshold int    `json:"activation_threshold"`
	TimeoutMS           int64  `json:"timeout_ms"`
	Active              bool   `json:"active"`
	Accumulated         int    `json:"accumulated"`
}

type StatusEnvelope struct {
	SchemaVersion      string                `json:"schema_version"`
	GeneratedAt        time.Time             `json:"generated_at"`
	RequirePriorIdleMS int64                 `json:"require_prior_idle_ms"`
	LastKeyAt          *string               `json:"last_key_at,omitempty"`
	Layers             []LayerStatusResponse `json:"layers"`
}

type ActivationResponse struct {
	ActivationID string  `json:"activation_id"`
	Layer        int     `json:"layer"`
	LayerName    string  `json:"layer_name"`
	StartedAt    string  `json:"started_at"`
	EndedAt      *string `json:"ended_at,omitempty"`
	EndReason    string  `json:"end_reason,omitempty"`
}

type ActivationsEnvelope struct {
	SchemaVersion string               `json:"schema_version"`
	GeneratedAt   time.Time            `json:"generated_at"`
	Activations   []ActivationResponse `json:"activations"`
}
