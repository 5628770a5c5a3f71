package api

import (
	"context"
	"encoding/json"
	"net/url"
)

// Model config types.
const (
	ConfigTypeChat      = "chat"
	ConfigTypeEmbedding = "embedding"
)

// ModelConfig is a stored model endpoint configuration.
type ModelConfig struct {
	ID         string  `json:"id"`
	ConfigType string  `json:"config_type"`
	ModelName  string  `json:"model_name"`
	APIKey     string  `json:"api_key"`
	BaseURL    string  `json:"base_url"`
	IsActive   bool    `json:"is_active"`
	Remark     *string `json:"remark"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// ModelConfigInput creates a config, or patches one when fields are left
// empty on update.
type ModelConfigInput struct {
	ConfigType string `json:"config_type,omitempty"`
	ModelName  string `json:"model_name,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	IsActive   *bool  `json:"is_active,omitempty"`
	Remark     string `json:"remark,omitempty"`
}

const modelConfigPath = "/model-config"

func (a *API) ListModelConfigs(ctx context.Context) ([]ModelConfig, error) {
	return get[[]ModelConfig](ctx, a, modelConfigPath+"/list", nil)
}

// ListModelConfigsByType lists chat or embedding configs.
func (a *API) ListModelConfigsByType(ctx context.Context, configType string) ([]ModelConfig, error) {
	return get[[]ModelConfig](ctx, a, modelConfigPath+"/list/"+url.PathEscape(configType), nil)
}

func (a *API) AddModelConfig(ctx context.Context, in ModelConfigInput) (ModelConfig, error) {
	return post[ModelConfig](ctx, a, modelConfigPath+"/add", in)
}

func (a *API) UpdateModelConfig(ctx context.Context, id string, in ModelConfigInput) (ModelConfig, error) {
	return put[ModelConfig](ctx, a, modelConfigPath+"/update/"+url.PathEscape(id), in)
}

func (a *API) DeleteModelConfig(ctx context.Context, id string) (json.RawMessage, error) {
	return del[json.RawMessage](ctx, a, modelConfigPath+"/delete/"+url.PathEscape(id), nil)
}

// SetActiveModelConfig makes id the active config of its type.
func (a *API) SetActiveModelConfig(ctx context.Context, id string) (ModelConfig, error) {
	return put[ModelConfig](ctx, a, modelConfigPath+"/set-active/"+url.PathEscape(id), nil)
}

// InitDefaultModelConfigs seeds the backend defaults.
func (a *API) InitDefaultModelConfigs(ctx context.Context) (json.RawMessage, error) {
	return post[json.RawMessage](ctx, a, modelConfigPath+"/init-default", nil)
}
